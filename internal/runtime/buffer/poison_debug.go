//go:build asyncnats_debug

package buffer

const debugPoison = true
