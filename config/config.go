package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shibukawa/configdir"

	"github.com/quorumcontrol/ballotbox/sdk/gate"
)

const (
	vendorName = "ballotbox"
	fileName   = "conf.toml"

	DefaultNodeURL  = "ws://127.0.0.1:9944"
	DefaultDecimals = 12
	DefaultUnit     = "Unit"
)

type TracingSystem int

const (
	NoTracing TracingSystem = iota
	JaegerTracing
	ElasticTracing
)

// Config is what the commands run with. SetDefaults leaves Decimals alone,
// 0 is a valid setting.
type Config struct {
	NodeURL       string
	Account       common.Address
	StoragePath   string
	MetadataDir   string
	TracingSystem TracingSystem

	Decimals int
	Unit     string

	VoteSection string
	VoteMethod  string

	MaxAttempts uint64
	Interval    time.Duration
}

// HumanConfig is the on-disk shape of Config.
type HumanConfig struct {
	NodeURL       string `toml:"node_url"`
	Account       string `toml:"account"`
	StoragePath   string `toml:"storage_path"`
	MetadataDir   string `toml:"metadata_dir"`
	TracingSystem string `toml:"tracing_system"`

	Decimals *int   `toml:"decimals"`
	Unit     string `toml:"unit"`

	VoteSection string `toml:"vote_section"`
	VoteMethod  string `toml:"vote_method"`

	Gate HumanGateConfig `toml:"gate"`
}

type HumanGateConfig struct {
	MaxAttempts uint64 `toml:"max_attempts"`
	IntervalMs  int64  `toml:"interval_ms"`
}

func HumanConfigToConfig(hc HumanConfig) (*Config, error) {
	c := &Config{
		NodeURL:     hc.NodeURL,
		StoragePath: hc.StoragePath,
		MetadataDir: hc.MetadataDir,
		Decimals:    DefaultDecimals,
		Unit:        hc.Unit,
		VoteSection: hc.VoteSection,
		VoteMethod:  hc.VoteMethod,
		MaxAttempts: hc.Gate.MaxAttempts,
		Interval:    time.Duration(hc.Gate.IntervalMs) * time.Millisecond,
	}

	if hc.Decimals != nil {
		if *hc.Decimals < 0 {
			return nil, fmt.Errorf("decimals must not be negative, got %d", *hc.Decimals)
		}
		c.Decimals = *hc.Decimals
	}
	if hc.Gate.IntervalMs < 0 {
		return nil, fmt.Errorf("gate interval_ms must not be negative, got %d", hc.Gate.IntervalMs)
	}

	if hc.Account != "" {
		if !common.IsHexAddress(hc.Account) {
			return nil, fmt.Errorf("account %q is not a hex address", hc.Account)
		}
		c.Account = common.HexToAddress(hc.Account)
	}

	switch hc.TracingSystem {
	case "":
		// do nothing
	case "jaeger":
		c.TracingSystem = JaegerTracing
	case "elastic":
		c.TracingSystem = ElasticTracing
	default:
		return nil, fmt.Errorf("only 'jaeger' and 'elastic' are supported for tracing")
	}

	c.SetDefaults()
	return c, nil
}

func (c *Config) SetDefaults() {
	if c.NodeURL == "" {
		c.NodeURL = DefaultNodeURL
	}
	if c.StoragePath == "" {
		c.StoragePath = filepath.Join(Dir(), "keystore")
	}
	if c.Unit == "" {
		c.Unit = DefaultUnit
	}
	if c.VoteSection == "" {
		c.VoteSection = "democracy"
	}
	if c.VoteMethod == "" {
		c.VoteMethod = "vote"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = gate.DefaultMaxAttempts
	}
	if c.Interval == 0 {
		c.Interval = gate.DefaultInterval
	}
}

// GateOptions returns the gate settings of the config.
func (c *Config) GateOptions() []gate.Option {
	return []gate.Option{
		gate.WithMaxAttempts(c.MaxAttempts),
		gate.WithInterval(c.Interval),
	}
}

// TomlToConfig will load a config from a toml string
func TomlToConfig(tomlStr string) (*Config, error) {
	var hc HumanConfig
	_, err := toml.Decode(tomlStr, &hc)
	if err != nil {
		return nil, fmt.Errorf("error decoding toml: %v", err)
	}
	return HumanConfigToConfig(hc)
}

// Dir is the per-user configuration directory.
func Dir() string {
	conf := configdir.New(vendorName, "")
	folders := conf.QueryFolders(configdir.Global)
	return folders[0].Path
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), fileName)
}

// Load reads the config at path, or at DefaultPath when path is empty. A
// missing default file yields the defaults; a missing explicit file is an
// error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	bits, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return HumanConfigToConfig(HumanConfig{})
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	c, err := TomlToConfig(string(bits))
	if err != nil {
		return nil, fmt.Errorf("error loading config %s: %w", path, err)
	}
	return c, nil
}

// Save writes hc to path, creating parent directories as needed.
func Save(path string, hc HumanConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %v", path, err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(hc); err != nil {
		return fmt.Errorf("error encoding config: %v", err)
	}
	return nil
}
