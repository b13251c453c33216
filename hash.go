package neptunevk

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hasher accumulates a 64-bit content digest. Every hash-keyed cache in the
// package derives its keys through one of these.
type Hasher struct {
	digest  xxhash.Digest
	started bool
}

func NewHasher() *Hasher {
	h := &Hasher{}
	h.digest.Reset()
	return h
}

func (h *Hasher) U32(v uint32) *Hasher {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	h.digest.Write(buf[:])
	return h
}

func (h *Hasher) U64(v uint64) *Hasher {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.digest.Write(buf[:])
	return h
}

func (h *Hasher) I32(v int32) *Hasher {
	return h.U32(uint32(v))
}

func (h *Hasher) F32(v float32) *Hasher {
	return h.U32(float32bits(v))
}

func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.U32(1)
	}
	return h.U32(0)
}

func (h *Hasher) Data(p []byte) *Hasher {
	h.digest.Write(p)
	return h
}

func (h *Hasher) Str(s string) *Hasher {
	h.digest.WriteString(s)
	return h
}

func (h *Hasher) Get() uint64 {
	return h.digest.Sum64()
}

// HashData digests a raw byte stream, used for SPIR-V module hashing.
func HashData(p []byte) uint64 {
	return xxhash.Sum64(p)
}
