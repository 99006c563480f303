// Package config loads the runtime configuration of the twin CLI and server
// from a YAML file. Command line flags and TWIN_* environment variables are
// applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/redemption"
)

// Ledger modes.
const (
	LedgerMemory = "memory"
	LedgerRPC    = "rpc"
)

// Config is the full runtime configuration, one field per YAML section.
//
// New returns the defaults, Load overlays a file on them and the CLI
// overlays flags after that. Call Validate before use.
type Config struct {
	Ledger      Ledger      `yaml:"ledger"`
	Store       Store       `yaml:"store"`
	Presence    Presence    `yaml:"presence"`
	Redemption  Redemption  `yaml:"redemption"`
	DID         DID         `yaml:"did"`
	Cache       Cache       `yaml:"cache"`
	API         API         `yaml:"api"`
	StoreServer StoreServer `yaml:"store_server"`
	Log         Log         `yaml:"log"`
}

// Ledger selects the object registry: an in-process ledger or a deployed
// contract reached over JSON-RPC.
type Ledger struct {
	// Mode is "memory" or "rpc".
	Mode     string `yaml:"mode"`
	RPC      string `yaml:"rpc"`
	ChainID  int64  `yaml:"chain_id"`
	Contract string `yaml:"contract"`
	GasLimit uint64 `yaml:"gas_limit"`
	// MinimumFee is the creation fee in ether enforced by the memory ledger.
	MinimumFee string `yaml:"minimum_fee"`
}

// Store configures the content store holding metadata and redemption
// records.
type Store struct {
	// CASDir is the root of a local filesystem CAS. Empty keeps blobs in memory.
	CASDir string `yaml:"cas_dir"`
	// Mirrors are extra filesystem CAS roots every blob is also written to.
	// Reads fall through to them when the primary copy is missing or corrupt.
	Mirrors []string `yaml:"mirrors"`
	// IndexDB is the sqlite file of the key index. Empty keeps it in memory.
	IndexDB string `yaml:"index_db"`
	// Remote is the gRPC address of a content store served by "twin stored".
	// It replaces the local CAS, mirrors and index.
	Remote string `yaml:"remote"`
}

// Presence configures Type I proof of presence.
type Presence struct {
	// NonceDB is the sqlite file of the replay registry. Defaults to IndexDB;
	// empty keeps nonces in memory.
	NonceDB string `yaml:"nonce_db"`
	// MaxPayloadAge rejects payloads older than this. Zero disables the check.
	MaxPayloadAge time.Duration `yaml:"max_payload_age"`
}

// Redemption configures Type II redemption.
type Redemption struct {
	// WritePolicy is "last-write-wins" (default) or "first-write-wins".
	WritePolicy string `yaml:"write_policy"`
	// LinkBase prefixes generated bearer and verification links.
	LinkBase string `yaml:"link_base"`
}

// DID holds the method used when deriving DIDs from addresses.
type DID struct {
	Method string `yaml:"method"`
}

// Cache bounds the object view cache.
type Cache struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// API configures the HTTP verification API started by "twin serve".
type API struct {
	Listen string `yaml:"listen"`
}

// StoreServer configures the gRPC content store started by "twin stored".
type StoreServer struct {
	Listen string `yaml:"listen"`
	// CASDir is the root of the served filesystem CAS.
	CASDir string `yaml:"cas_dir"`
	// IndexDB is the sqlite file of the served index. Empty keeps it in memory.
	IndexDB string `yaml:"index_db"`
}

// Log configures the process logger.
type Log struct {
	// Level is a slog level name: debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// New returns the default configuration: in-memory ledger and store.
func New() *Config {
	return &Config{
		Ledger: Ledger{
			Mode:    LedgerMemory,
			ChainID: 704,
		},
		DID:   DID{Method: did.DefaultMethod},
		Cache: Cache{Size: 1024, TTL: 5 * time.Minute},
		API:   API{Listen: ":8080"},
		Log:   Log{Level: "info", Format: "text"},
		StoreServer: StoreServer{
			Listen: ":9090",
			CASDir: "./data/cas",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return c, nil
}

// Validate checks the configuration for the selected ledger mode.
func (c *Config) Validate() error {
	switch c.Ledger.Mode {
	case LedgerMemory:
	case LedgerRPC:
		if c.Ledger.RPC == "" {
			return errors.New("ledger.rpc is required in rpc mode")
		}
		if !common.IsHexAddress(c.Ledger.Contract) {
			return errors.New("ledger.contract must be a contract address in rpc mode")
		}
		if c.Ledger.ChainID <= 0 {
			return errors.New("ledger.chain_id must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown ledger.mode %q", c.Ledger.Mode)
	}

	if !strings.HasPrefix(strings.ToLower(c.DID.Method), "did:") {
		return fmt.Errorf("did.method %q must start with did:", c.DID.Method)
	}
	if _, err := redemption.ParseWritePolicy(c.Redemption.WritePolicy); err != nil {
		return err
	}
	if c.Presence.MaxPayloadAge < 0 {
		return errors.New("presence.max_payload_age must not be negative")
	}
	if c.Store.Remote != "" && (c.Store.CASDir != "" || c.Store.IndexDB != "" || len(c.Store.Mirrors) > 0) {
		return errors.New("store.remote can not be combined with cas_dir, mirrors or index_db")
	}

	return nil
}

// WritePolicy returns the parsed redemption write policy.
func (c *Config) WritePolicy() redemption.WritePolicy {
	p, _ := redemption.ParseWritePolicy(c.Redemption.WritePolicy)
	return p
}

// NonceDB returns the sqlite file of the replay registry.
func (c *Config) NonceDB() string {
	if c.Presence.NonceDB != "" {
		return c.Presence.NonceDB
	}

	return c.Store.IndexDB
}

// Logger builds the process logger.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
