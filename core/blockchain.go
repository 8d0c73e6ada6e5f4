package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"dposledger/core/types"
	"dposledger/storage"
)

var (
	blockPrefix = []byte("chain:block:")
	heightKey   = []byte("chain:height")

	ErrEmptyChain       = errors.New("chain: no blocks to revert")
	ErrHeightMismatch   = errors.New("chain: unexpected block height")
	ErrPrevHashMismatch = errors.New("chain: previous hash mismatch")
	ErrMissingHeader    = errors.New("chain: block header required")
	ErrBlockNotFound    = errors.New("chain: block not found")
)

// Blockchain stores the applied blocks by height. Height 0 is the implicit
// genesis state; the first stored block has height 1 and an empty PrevHash.
type Blockchain struct {
	mu     sync.RWMutex
	db     storage.Database
	height uint64
	tip    []byte
}

// NewBlockchain opens the chain stored in db.
func NewBlockchain(db storage.Database) (*Blockchain, error) {
	bc := &Blockchain{db: db}
	raw, err := db.Get(heightKey)
	if errors.Is(err, storage.ErrNotFound) {
		return bc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("chain: corrupt height record")
	}
	bc.height = binary.BigEndian.Uint64(raw)
	if bc.height > 0 {
		tipBlock, err := bc.load(bc.height)
		if err != nil {
			return nil, err
		}
		if bc.tip, err = tipBlock.Header.Hash(); err != nil {
			return nil, err
		}
	}
	return bc, nil
}

func blockKey(height uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], height)
	return key
}

func encodeHeight(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}

// CheckNext reports whether b extends the current tip.
func (bc *Blockchain) CheckNext(b *types.Block) error {
	if b == nil || b.Header == nil {
		return ErrMissingHeader
	}
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if b.Header.Height != bc.height+1 {
		return fmt.Errorf("%w: got %d want %d", ErrHeightMismatch, b.Header.Height, bc.height+1)
	}
	if !bytes.Equal(b.Header.PrevHash, bc.tip) {
		return ErrPrevHashMismatch
	}
	return nil
}

// Append stores b as the new tip.
func (bc *Blockchain) Append(b *types.Block) error {
	return bc.AppendWith(b, nil, nil)
}

// AppendWith stores b as the new tip in the same atomic batch as the extra
// puts and deletes. Neither is written when the block does not extend the
// tip.
func (bc *Blockchain) AppendWith(b *types.Block, puts map[string][]byte, deletes [][]byte) error {
	if err := bc.CheckNext(b); err != nil {
		return err
	}
	encoded, err := json.Marshal(b)
	if err != nil {
		return err
	}
	hash, err := b.Header.Hash()
	if err != nil {
		return err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	height := b.Header.Height
	batch := make(map[string][]byte, len(puts)+2)
	for key, value := range puts {
		batch[key] = value
	}
	batch[string(blockKey(height))] = encoded
	batch[string(heightKey)] = encodeHeight(height)
	if err := storage.WriteBatch(bc.db, batch, deletes); err != nil {
		return err
	}
	bc.height = height
	bc.tip = hash
	return nil
}

// Pop removes and returns the tip block.
func (bc *Blockchain) Pop() (*types.Block, error) {
	return bc.PopWith(nil, nil)
}

// PopWith removes the tip block in the same atomic batch as the extra puts
// and deletes.
func (bc *Blockchain) PopWith(puts map[string][]byte, deletes [][]byte) (*types.Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.height == 0 {
		return nil, ErrEmptyChain
	}
	tipBlock, err := bc.load(bc.height)
	if err != nil {
		return nil, err
	}
	parent := bc.height - 1
	var parentHash []byte
	if parent > 0 {
		parentBlock, err := bc.load(parent)
		if err != nil {
			return nil, err
		}
		if parentHash, err = parentBlock.Header.Hash(); err != nil {
			return nil, err
		}
	}
	batch := make(map[string][]byte, len(puts)+1)
	for key, value := range puts {
		batch[key] = value
	}
	batch[string(heightKey)] = encodeHeight(parent)
	if err := storage.WriteBatch(bc.db, batch, append(append([][]byte(nil), deletes...), blockKey(bc.height))); err != nil {
		return nil, err
	}
	bc.height = parent
	bc.tip = parentHash
	return tipBlock, nil
}

// Tip returns the block at the current height without removing it.
func (bc *Blockchain) Tip() (*types.Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.height == 0 {
		return nil, ErrEmptyChain
	}
	return bc.load(bc.height)
}

// BlockAt returns the stored block at height.
func (bc *Blockchain) BlockAt(height uint64) (*types.Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if height == 0 || height > bc.height {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return bc.load(height)
}

func (bc *Blockchain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// TipHash returns the header hash of the tip, or nil at genesis.
func (bc *Blockchain) TipHash() []byte {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return append([]byte(nil), bc.tip...)
}

func (bc *Blockchain) load(height uint64) (*types.Block, error) {
	raw, err := bc.db.Get(blockKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	var b types.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("chain: decode block %d: %w", height, err)
	}
	return &b, nil
}
