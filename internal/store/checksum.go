package store

import (
	"hash"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Checksums guard against storage corruption only. Murmur3 is fast and
// non-cryptographic; nothing here is tamper-proofing.

var hasherPool = sync.Pool{
	New: func() interface{} {
		return murmur3.New64()
	},
}

func checksum(data []byte) string {
	hasher := hasherPool.Get().(hash.Hash64)
	defer hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write(data)
	return strconv.FormatUint(hasher.Sum64(), 16)
}

func validChecksum(data []byte, expected string) bool {
	if expected == "" {
		return true // records written before checksums were introduced
	}
	return checksum(data) == expected
}
