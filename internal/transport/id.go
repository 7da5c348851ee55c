package transport

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// dumpIDLen is how many leading id bytes DumpID renders.
const dumpIDLen = 6

// SourceID derives a stable 32-byte id from an arbitrary name, typically a
// reply address or node name.
func SourceID(name string) [32]byte {
	return blake3.Sum256([]byte(name))
}

// DumpID renders the leading bytes of an id as hex for log output.
func DumpID(id []byte) string {
	if len(id) > dumpIDLen {
		id = id[:dumpIDLen]
	}
	return hex.EncodeToString(id)
}
