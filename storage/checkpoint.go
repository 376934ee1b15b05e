package storage

import (
	"context"
	"errors"
)

const CheckpointCollection = "checkpoints"

type blockCheckpoint struct {
	Name  string `json:"name"`
	Block uint64 `json:"block"`
}

// BlockCheckpoint stores the last processed block of a named scanner.
type BlockCheckpoint struct {
	store Store
	name  string
}

func NewBlockCheckpoint(store Store, name string) *BlockCheckpoint {
	return &BlockCheckpoint{store: store, name: name}
}

func (c *BlockCheckpoint) LastBlock(ctx context.Context) (uint64, bool, error) {
	var cp blockCheckpoint
	err := c.store.Find(ctx, CheckpointCollection, c.name, &cp)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cp.Block, true, nil
}

func (c *BlockCheckpoint) SaveLastBlock(ctx context.Context, n uint64) error {
	return c.store.Upsert(ctx, CheckpointCollection, c.name, blockCheckpoint{Name: c.name, Block: n})
}
