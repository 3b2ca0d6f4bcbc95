package storage

import (
	"context"
	"errors"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

var ErrBlockConflict = errors.New("block index already archived with a different hash")

// BlockSink receives every sealed block after it has been appended to the
// chain. A failing sink never undoes the seal.
type BlockSink interface {
	Name() string
	Archive(ctx context.Context, block protocol.Block, hash string) error
	Close() error
}
