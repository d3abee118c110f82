package jsoncodec

import (
	"bytes"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// MarshalString renders v as a JSON string, the form handed to the host as
// an owned string.
func MarshalString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalStrict rejects unknown fields, which catches typos in host
// supplied configuration documents.
func UnmarshalStrict(data []byte, v any) error {
	dec := defaultConfig.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
