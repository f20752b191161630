// Package rtrie exposes the narrow Merkle-Patricia-trie contract the
// derivation pipeline needs — insert(key, value) and root() — without
// leaking go-ethereum's node representation across package boundaries,
// per the Design Notes in spec.md §9.
package rtrie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// Hasher accumulates RLP(index)->value pairs and produces the resulting
// trie root, the same structure go-ethereum uses internally to compute
// types.Header.TxHash and ReceiptHash (see core/types.DeriveSha).
type Hasher struct {
	t *trie.StackTrie
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{t: trie.NewStackTrie(nil)}
}

// Insert adds a key/value pair. Keys are typically the RLP encoding of a
// small integer index, as required by spec.md §4.1 and §4.7.
func (h *Hasher) Insert(key, value []byte) error {
	return h.t.Update(key, value)
}

// InsertIndexed RLP-encodes idx as the key and inserts value, matching
// the indexing convention used for both transaction and receipt tries.
func (h *Hasher) InsertIndexed(idx int, value []byte) error {
	key, err := rlp.EncodeToBytes(uint(idx))
	if err != nil {
		return err
	}
	return h.Insert(key, value)
}

// Root returns the trie's root hash.
func (h *Hasher) Root() common.Hash {
	return h.t.Hash()
}

// RootOfIndexed is a convenience for the common pattern of hashing an
// ordered list of opaque byte strings keyed by their position.
func RootOfIndexed(values [][]byte) (common.Hash, error) {
	h := New()
	for i, v := range values {
		if err := h.InsertIndexed(i, v); err != nil {
			return common.Hash{}, err
		}
	}
	return h.Root(), nil
}
