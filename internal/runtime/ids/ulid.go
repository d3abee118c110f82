package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-sortable ULID encoded as a 26-character string.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ClientName returns a connection name for clients that did not configure
// one: the prefix, a dash and a lower-case ULID.
func ClientName(prefix string) string {
	if prefix == "" {
		prefix = "async-nats"
	}
	return prefix + "-" + strings.ToLower(New())
}
