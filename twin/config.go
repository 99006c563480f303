package twin

import (
	"log/slog"
	"time"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/nonce"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/store"
)

// Default configuration constants.
//
// These values can be overridden using options when creating a Client.
const (
	// DefaultChainID is the chain ID used to sign registry transactions.
	DefaultChainID = int64(704)
	// DefaultMethod is the DID method of object identifiers.
	DefaultMethod = did.DefaultMethod
	// DefaultCacheSize is the number of object views kept in memory.
	DefaultCacheSize = 1024
)

// Config holds configuration for a Client.
//
// Important notes:
//   - Ledger takes precedence over RPC, ChainID and ContractAddress
//   - Store defaults to an in-memory content store
//   - Nonces defaults to an in-memory registry; a persistent registry is
//     needed for replay protection across restarts
//   - CacheSize 0 disables the object view cache
type Config struct {
	// RPC is the JSON-RPC endpoint of the chain hosting the registry.
	RPC string
	// ChainID is the chain ID used for EIP-155 transaction signing.
	ChainID int64
	// ContractAddress is the address of the ObjectRegistry contract.
	ContractAddress string
	// Method is the DID method of object identifiers (e.g. "did:ethr").
	Method string
	// Ledger overrides the contract client built from RPC.
	Ledger ledger.Ledger
	// Store is the content store for metadata and redemption records.
	Store store.ContentStore
	// Nonces is the presence replay registry.
	Nonces nonce.Registry
	// MaxPayloadAge rejects presence payloads older than this when > 0.
	MaxPayloadAge time.Duration
	// WritePolicy is the redemption write policy.
	WritePolicy redemption.WritePolicy
	// CacheSize is the object view cache size.
	CacheSize int
	// CacheTTL is the object view cache TTL.
	CacheTTL time.Duration
	// Logger receives structured logs.
	Logger *slog.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Config)

// WithRPC sets the RPC endpoint URL.
func WithRPC(rpc string) Option {
	return func(c *Config) { c.RPC = rpc }
}

// WithChainID sets the chain ID.
func WithChainID(chainID int64) Option {
	return func(c *Config) { c.ChainID = chainID }
}

// WithContractAddress sets the ObjectRegistry contract address.
func WithContractAddress(addr string) Option {
	return func(c *Config) { c.ContractAddress = addr }
}

// WithMethod sets the DID method (e.g. "did:ethr").
func WithMethod(method string) Option {
	return func(c *Config) { c.Method = method }
}

// WithLedger sets the ledger directly, e.g. a memledger.Ledger.
func WithLedger(l ledger.Ledger) Option {
	return func(c *Config) { c.Ledger = l }
}

// WithStore sets the content store.
func WithStore(s store.ContentStore) Option {
	return func(c *Config) { c.Store = s }
}

// WithNonceRegistry sets the presence replay registry.
func WithNonceRegistry(r nonce.Registry) Option {
	return func(c *Config) { c.Nonces = r }
}

// WithMaxPayloadAge rejects presence payloads older than d.
func WithMaxPayloadAge(d time.Duration) Option {
	return func(c *Config) { c.MaxPayloadAge = d }
}

// WithWritePolicy sets the redemption write policy.
func WithWritePolicy(p redemption.WritePolicy) Option {
	return func(c *Config) { c.WritePolicy = p }
}

// WithCache sets the object view cache size and TTL.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheSize = size
		c.CacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
