package core

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"dposledger/core/types"
)

// ComputeTxRoot returns the root of a Merkle Patricia trie holding the
// canonical encoding of each transaction keyed by its RLP encoded index.
// An empty list yields the empty trie root.
func ComputeTxRoot(txs []*types.Transaction) ([]byte, error) {
	db := rawdb.NewDatabase(memorydb.New())
	trie, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), triedb.NewDatabase(db, triedb.HashDefaults))
	if err != nil {
		return nil, err
	}
	for i, tx := range txs {
		payload, err := tx.Bytes()
		if err != nil {
			return nil, err
		}
		if err := trie.Update(rlp.AppendUint64(nil, uint64(i)), payload); err != nil {
			return nil, err
		}
	}
	root := trie.Hash()
	return root.Bytes(), nil
}
