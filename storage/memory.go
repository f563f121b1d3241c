package storage

import (
	"github.com/ipfs/go-datastore"
	dsync "github.com/ipfs/go-datastore/sync"
)

// NewMemory returns a mutex-wrapped map datastore. Nothing survives the
// process; it backs the keystore when no storage path is configured.
func NewMemory() datastore.Batching {
	return dsync.MutexWrap(datastore.NewMapDatastore())
}
