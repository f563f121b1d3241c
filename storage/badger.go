package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	datastore "github.com/ipfs/go-datastore"
	dsbadger "github.com/ipfs/go-ds-badger"
)

// LowMemoryEnv switches badger to file IO instead of memory mapping.
const LowMemoryEnv = "BALLOTBOX_BADGER_LOW_MEMORY"

// NewBadger opens (creating it if needed) a badger datastore at path.
func NewBadger(path string) (datastore.Batching, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("error creating %s: %w", path, err)
	}

	opts := badger.DefaultOptions("")
	opts.Dir = path
	opts.ValueDir = path

	lowMemoryModeVal, lowMemoryModeSet := os.LookupEnv(LowMemoryEnv)
	if lowMemoryModeSet && strings.ToLower(lowMemoryModeVal) != "false" {
		opts.ValueLogLoadingMode = options.FileIO
		opts.TableLoadingMode = options.FileIO
	}

	store, err := dsbadger.NewDatastore(path, &dsbadger.Options{Options: opts})
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", path, err)
	}
	return store, nil
}
