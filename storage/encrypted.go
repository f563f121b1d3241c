package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	datastore "github.com/ipfs/go-datastore"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var ErrLocked = errors.New("storage is locked")

const (
	nonceLength = 24
	saltLength  = 8
)

var saltKey = datastore.NewKey("/_ballotbox/encrypted/salt")

// EncryptedStore seals every value with a key derived from a passphrase.
// Keys stay in the clear so the wrapped store can still be queried for them.
type EncryptedStore struct {
	datastore.Datastore

	lock      sync.RWMutex
	secretKey *[32]byte
}

// NewEncrypted wraps store. It starts out locked.
func NewEncrypted(store datastore.Datastore) *EncryptedStore {
	return &EncryptedStore{
		Datastore: store,
	}
}

// Unlock derives the secret key from passphrase. The salt is created on the
// first unlock and persisted in the wrapped store.
func (es *EncryptedStore) Unlock(passphrase string) error {
	salt, err := es.salt()
	if err != nil {
		return err
	}
	dk, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return fmt.Errorf("error deriving key: %w", err)
	}

	var key [32]byte
	copy(key[:], dk)

	es.lock.Lock()
	defer es.lock.Unlock()
	es.secretKey = &key
	return nil
}

// Lock forgets the secret key.
func (es *EncryptedStore) Lock() {
	es.lock.Lock()
	defer es.lock.Unlock()
	es.secretKey = nil
}

func (es *EncryptedStore) IsUnlocked() bool {
	es.lock.RLock()
	defer es.lock.RUnlock()
	return es.secretKey != nil
}

func (es *EncryptedStore) key() (*[32]byte, error) {
	es.lock.RLock()
	defer es.lock.RUnlock()
	if es.secretKey == nil {
		return nil, ErrLocked
	}
	return es.secretKey, nil
}

func (es *EncryptedStore) Put(key datastore.Key, value []byte) error {
	secretKey, err := es.key()
	if err != nil {
		return err
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("error getting nonce: %w", err)
	}
	return es.Datastore.Put(key, secretbox.Seal(nonce[:], value, &nonce, secretKey))
}

// Get returns datastore.ErrNotFound unwrapped so callers can compare against it.
func (es *EncryptedStore) Get(key datastore.Key) ([]byte, error) {
	secretKey, err := es.key()
	if err != nil {
		return nil, err
	}
	encryptedBytes, err := es.Datastore.Get(key)
	if err != nil {
		return nil, err
	}
	if len(encryptedBytes) < nonceLength+secretbox.Overhead {
		return nil, fmt.Errorf("value at %s is too short to be encrypted", key)
	}

	var nonce [nonceLength]byte
	copy(nonce[:], encryptedBytes[:nonceLength])
	decrypted, ok := secretbox.Open(nil, encryptedBytes[nonceLength:], &nonce, secretKey)
	if !ok {
		return nil, fmt.Errorf("error decrypting %s: wrong passphrase?", key)
	}
	return decrypted, nil
}

func (es *EncryptedStore) salt() ([]byte, error) {
	salt, err := es.Datastore.Get(saltKey)
	if err == nil && len(salt) == saltLength {
		return salt, nil
	}
	if err != nil && err != datastore.ErrNotFound {
		return nil, fmt.Errorf("error getting salt: %w", err)
	}

	salt = make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("error generating salt: %w", err)
	}
	if err := es.Datastore.Put(saltKey, salt); err != nil {
		return nil, fmt.Errorf("error saving salt: %w", err)
	}
	return salt, nil
}
