package storage

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	datastore "github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"
)

func TestNewBadger(t *testing.T) {
	dir, err := ioutil.TempDir("", "ballotbox-badger")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "keys")

	store, err := NewBadger(path)
	require.Nil(t, err)

	k := datastore.NewKey("/accounts/test")
	require.Nil(t, store.Put(k, []byte("hi")))
	require.Nil(t, store.Close())

	reopened, err := NewBadger(path)
	require.Nil(t, err)
	defer reopened.Close()

	val, err := reopened.Get(k)
	require.Nil(t, err)
	require.Equal(t, []byte("hi"), val)
}
