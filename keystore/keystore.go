package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	datastore "github.com/ipfs/go-datastore"
	query "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log"

	"github.com/quorumcontrol/ballotbox/storage"
)

var ErrLocked = storage.ErrLocked
var ErrUnknownAccount = errors.New("unknown account")
var ErrExistingAccount = errors.New("account already exists")

var logger = logging.Logger("keystore")

// Kind says how an account signs.
type Kind byte

const (
	// Local accounts hold their private key in the keystore.
	Local Kind = iota + 1
	// External accounts are signed for by an air-gapped device.
	External
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case External:
		return "external"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// Account is a resolved signing account. Key is nil for External accounts.
type Account struct {
	Address common.Address
	Kind    Kind
	Key     *ecdsa.PrivateKey
}

// KeyStore keeps the account list in the clear and the private keys of
// local accounts encrypted.
type KeyStore struct {
	storage   datastore.Datastore
	encrypted *storage.EncryptedStore
}

type Config struct {
	Storage datastore.Datastore
}

func New(config *Config) *KeyStore {
	return &KeyStore{
		storage:   config.Storage,
		encrypted: storage.NewEncrypted(config.Storage),
	}
}

func (ks *KeyStore) Unlock(passphrase string) error {
	return ks.encrypted.Unlock(passphrase)
}

func (ks *KeyStore) Lock() {
	ks.encrypted.Lock()
}

func (ks *KeyStore) Close() error {
	ks.encrypted.Lock()
	return ks.storage.Close()
}

// GenerateKey creates and stores a new local account.
func (ks *KeyStore) GenerateKey() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("error generating key: %v", err)
	}
	return ks.ImportKey(key)
}

// ImportKey stores key as a local account. The keystore must be unlocked.
func (ks *KeyStore) ImportKey(key *ecdsa.PrivateKey) (*Account, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if err := ks.checkNew(addr); err != nil {
		return nil, err
	}

	err := ks.encrypted.Put(keyStorageKey(addr), crypto.FromECDSA(key))
	if err != nil {
		return nil, fmt.Errorf("error storing key: %w", err)
	}
	err = ks.storage.Put(accountStorageKey(addr), []byte{byte(Local)})
	if err != nil {
		return nil, fmt.Errorf("error storing account: %w", err)
	}
	logger.Debugf("imported local account %s", addr.Hex())
	return &Account{Address: addr, Kind: Local, Key: key}, nil
}

// AddExternal registers an address whose signatures come from an external
// signer. It does not require the keystore to be unlocked.
func (ks *KeyStore) AddExternal(addr common.Address) (*Account, error) {
	if err := ks.checkNew(addr); err != nil {
		return nil, err
	}
	err := ks.storage.Put(accountStorageKey(addr), []byte{byte(External)})
	if err != nil {
		return nil, fmt.Errorf("error storing account: %w", err)
	}
	logger.Debugf("added external account %s", addr.Hex())
	return &Account{Address: addr, Kind: External}, nil
}

func (ks *KeyStore) checkNew(addr common.Address) error {
	exists, err := ks.storage.Has(accountStorageKey(addr))
	if err != nil {
		return fmt.Errorf("error checking account: %w", err)
	}
	if exists {
		return fmt.Errorf("%s: %w", addr.Hex(), ErrExistingAccount)
	}
	return nil
}

// Resolve looks an account up. Local accounts need the keystore to be
// unlocked and fail with ErrLocked otherwise.
func (ks *KeyStore) Resolve(addr common.Address) (*Account, error) {
	kind, err := ks.kind(addr)
	if err != nil {
		return nil, err
	}
	if kind == External {
		return &Account{Address: addr, Kind: External}, nil
	}

	keyBytes, err := ks.encrypted.Get(keyStorageKey(addr))
	if err != nil {
		if err == ErrLocked {
			return nil, err
		}
		return nil, fmt.Errorf("error getting key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("error decoding key: %w", err)
	}
	return &Account{Address: addr, Kind: Local, Key: key}, nil
}

func (ks *KeyStore) kind(addr common.Address) (Kind, error) {
	bits, err := ks.storage.Get(accountStorageKey(addr))
	if err == datastore.ErrNotFound {
		return 0, fmt.Errorf("%s: %w", addr.Hex(), ErrUnknownAccount)
	}
	if err != nil {
		return 0, fmt.Errorf("error getting account: %w", err)
	}
	if len(bits) != 1 || (Kind(bits[0]) != Local && Kind(bits[0]) != External) {
		return 0, fmt.Errorf("corrupt account entry for %s", addr.Hex())
	}
	return Kind(bits[0]), nil
}

// List returns every account without touching private keys.
func (ks *KeyStore) List() ([]*Account, error) {
	result, err := ks.storage.Query(query.Query{
		Prefix: datastore.NewKey(accountPrefix).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("error querying accounts: %v", err)
	}
	defer result.Close()

	var accounts []*Account
	for entry := range result.Next() {
		if entry.Error != nil {
			return nil, fmt.Errorf("error reading accounts: %v", entry.Error)
		}
		addr := common.HexToAddress(datastore.NewKey(entry.Key).BaseNamespace())
		if len(entry.Value) != 1 {
			logger.Warningf("skipping corrupt account entry %s", entry.Key)
			continue
		}
		accounts = append(accounts, &Account{Address: addr, Kind: Kind(entry.Value[0])})
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Address.Hex() < accounts[j].Address.Hex()
	})
	return accounts, nil
}

const (
	accountPrefix = "-a-"
	keyPrefix     = "-k-"
)

func accountStorageKey(addr common.Address) datastore.Key {
	return datastore.KeyWithNamespaces([]string{accountPrefix, addr.Hex()})
}

func keyStorageKey(addr common.Address) datastore.Key {
	return datastore.KeyWithNamespaces([]string{keyPrefix, addr.Hex()})
}
