package metadata

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
)

var DefaultCacheSize = 16

// Registry resolves call indices per runtime spec version. Versions come
// from the built-in tables, from tables registered at runtime or from
// <dir>/<specVersion>.toml, in that order.
type Registry struct {
	sync.RWMutex

	dir      string
	builtin  map[uint32]string
	versions map[uint32]*Version
	cache    *lru.Cache
	logger   logging.EventLogger
}

type Config struct {
	Dir       string
	CacheSize int
	Builtin   map[uint32]string
	Logger    logging.EventLogger
}

type Option func(c *Config) error

func (c *Config) SetDefaults() error {
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Builtin == nil {
		c.Builtin = BuiltinVersions
	}
	if c.Logger == nil {
		c.Logger = logging.Logger("metadata")
	}
	return nil
}

func (c *Config) ApplyOptions(opts ...Option) error {
	for _, factory := range opts {
		err := factory(c)
		if err != nil {
			return fmt.Errorf("error applying option: %v", err)
		}
	}
	return nil
}

// WithDir loads versions that are not built in from <dir>/<specVersion>.toml.
func WithDir(dir string) Option {
	return func(c *Config) error {
		c.Dir = dir
		return nil
	}
}

func WithCacheSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 {
			return fmt.Errorf("cache size must be positive, got %d", size)
		}
		c.CacheSize = size
		return nil
	}
}

// WithBuiltin replaces the built-in version tables.
func WithBuiltin(tables map[uint32]string) Option {
	return func(c *Config) error {
		c.Builtin = tables
		return nil
	}
}

func WithLogger(l logging.EventLogger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

func NewRegistry(opts ...Option) (*Registry, error) {
	c := &Config{}
	err := c.ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}
	err = c.SetDefaults()
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating cache: %w", err)
	}
	return &Registry{
		dir:      c.Dir,
		builtin:  c.Builtin,
		versions: make(map[uint32]*Version),
		cache:    cache,
		logger:   c.Logger,
	}, nil
}

// Register makes v available regardless of the configured sources.
func (r *Registry) Register(v *Version) {
	r.Lock()
	defer r.Unlock()
	r.versions[v.SpecVersion] = v
}

// Version returns the call table for specVersion or an error wrapping
// ErrUnknownVersion.
func (r *Registry) Version(specVersion uint32) (*Version, error) {
	r.RLock()
	v, ok := r.versions[specVersion]
	r.RUnlock()
	if ok {
		return v, nil
	}

	if cached, ok := r.cache.Get(specVersion); ok {
		return cached.(*Version), nil
	}

	v, err := r.load(specVersion)
	if err != nil {
		return nil, err
	}
	r.cache.Add(specVersion, v)
	return v, nil
}

func (r *Registry) load(specVersion uint32) (*Version, error) {
	tomlStr, ok := r.builtin[specVersion]
	if !ok && r.dir != "" {
		path := filepath.Join(r.dir, strconv.FormatUint(uint64(specVersion), 10)+".toml")
		bits, err := ioutil.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		default:
			r.logger.Debugf("loaded metadata for spec version %d from %s", specVersion, path)
			tomlStr, ok = string(bits), true
		}
	}
	if !ok {
		return nil, fmt.Errorf("spec version %d: %w", specVersion, ErrUnknownVersion)
	}

	v, err := TomlToVersion(tomlStr)
	if err != nil {
		return nil, fmt.Errorf("error loading spec version %d: %w", specVersion, err)
	}
	if v.SpecVersion != specVersion {
		return nil, fmt.Errorf("metadata for spec version %d declares spec_version %d", specVersion, v.SpecVersion)
	}
	return v, nil
}

// Lookup resolves a call index. Every failure, including an unknown version,
// matches ErrDecodeFailure.
func (r *Registry) Lookup(specVersion uint32, index chain.CallIndex) (*Method, error) {
	v, err := r.Version(specVersion)
	if err != nil {
		return nil, &DecodeError{SpecVersion: specVersion, Index: index, Err: err}
	}
	return v.Lookup(index)
}

// Index finds the call index of section.method at specVersion.
func (r *Registry) Index(specVersion uint32, section, method string) (chain.CallIndex, error) {
	v, err := r.Version(specVersion)
	if err != nil {
		return chain.CallIndex{}, err
	}
	m, err := v.Find(section, method)
	if err != nil {
		return chain.CallIndex{}, err
	}
	return m.Index, nil
}
