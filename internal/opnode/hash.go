package opnode

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// structuralHash folds a node's type identity and its reads' upstream
// hashes, in declared order, into the 64-bit cache key: initialize with
// the node's type identity, then hash in each upstream hash in declared
// order. xxhash.Digest gives a streaming, allocation-free way to do
// that folding without building an intermediate byte slice per call,
// which matters because this runs on every node evaluation, cached or
// not.
func structuralHash(typeID uint64, reads []readSlot) uint64 {
	d := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], typeID)
	_, _ = d.Write(buf[:])

	for i := range reads {
		h := uint64(0)
		if reads[i].response != nil {
			h = reads[i].response.Hash
		}
		binary.LittleEndian.PutUint64(buf[:], h)
		_, _ = d.Write(buf[:])
	}

	return d.Sum64()
}

// InitialConditionHash computes the hash an initial-condition node uses
// in place of structuralHash: the hash of the serialized initial value
// itself, since no upstream reads exist to fold in. serialized is
// expected to be a stable binary encoding of the initial Write value
// (the caller is responsible for determinism, e.g. via encoding/gob on
// a fixed field order, or a resource-specific encoder).
func InitialConditionHash(resourceLabel string, serialized []byte) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(resourceLabel)
	_, _ = d.Write(serialized)
	return d.Sum64()
}

// TypeIdentityHash derives a stable 64-bit type identity for an
// operation kind from its activity type name and the operation's index
// within that activity's decomposition (e.g. "IncA#0"). Two nodes with
// the same TypeIdentityHash and the same upstream hashes are, by
// construction, the same computation — the property the history store
// cache relies on.
func TypeIdentityHash(activityType string, opIndex int) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(activityType)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(opIndex))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
