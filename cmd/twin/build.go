package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/cas/localfs"
	"github.com/pilacorp/go-twin-sdk/cas/memory"
	"github.com/pilacorp/go-twin-sdk/config"
	"github.com/pilacorp/go-twin-sdk/internal/sqlitedb"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/ledger/memledger"
	"github.com/pilacorp/go-twin-sdk/nonce"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/grpcstore"
	"github.com/pilacorp/go-twin-sdk/store/index"
	"github.com/pilacorp/go-twin-sdk/store/index/memindex"
	"github.com/pilacorp/go-twin-sdk/store/index/sqlindex"
	"github.com/pilacorp/go-twin-sdk/twin"
)

const remoteTimeout = 10 * time.Second

// env is everything a command needs, built from the configuration file and
// the global flags.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	client *twin.Client

	closers []func() error
}

// Close releases everything opened for e, newest first.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}

	return errors.Join(errs...)
}

// loadConfig reads the configuration file and applies the global flags that
// were set explicitly.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	if cctx.IsSet("ledger") {
		cfg.Ledger.Mode = cctx.String("ledger")
	}
	if cctx.IsSet("rpc") {
		cfg.Ledger.RPC = cctx.String("rpc")
		if !cctx.IsSet("ledger") {
			cfg.Ledger.Mode = config.LedgerRPC
		}
	}
	if cctx.IsSet("chain-id") {
		cfg.Ledger.ChainID = cctx.Int64("chain-id")
	}
	if cctx.IsSet("contract") {
		cfg.Ledger.Contract = cctx.String("contract")
	}
	if cctx.IsSet("method") {
		cfg.DID.Method = cctx.String("method")
	}
	if cctx.IsSet("cas-dir") {
		cfg.Store.CASDir = cctx.String("cas-dir")
	}
	if cctx.IsSet("cas-mirror") {
		cfg.Store.Mirrors = cctx.StringSlice("cas-mirror")
	}
	if cctx.IsSet("store") {
		cfg.Store.Remote = cctx.String("store")
	}
	if cctx.IsSet("index-db") {
		cfg.Store.IndexDB = cctx.String("index-db")
	}
	if cctx.IsSet("write-policy") {
		cfg.Redemption.WritePolicy = cctx.String("write-policy")
	}
	if cctx.IsSet("max-payload-age") {
		cfg.Presence.MaxPayloadAge = cctx.Duration("max-payload-age")
	}
	if cctx.IsSet("log-level") {
		cfg.Log.Level = cctx.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// newEnv wires the ledger, the content store and the replay registry
// selected by the configuration into a twin.Client.
func newEnv(cctx *cli.Context) (*env, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: cfg.Logger()}

	l, err := e.buildLedger(cctx)
	if err != nil {
		return nil, err
	}

	dbs := map[string]*gorm.DB{}
	st, err := e.buildStore(dbs)
	if err != nil {
		e.Close()
		return nil, err
	}

	nonces, err := e.buildNonces(dbs)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.client, err = twin.NewClient(cctx.Context,
		twin.WithLedger(l),
		twin.WithStore(st),
		twin.WithNonceRegistry(nonces),
		twin.WithMethod(cfg.DID.Method),
		twin.WithMaxPayloadAge(cfg.Presence.MaxPayloadAge),
		twin.WithWritePolicy(cfg.WritePolicy()),
		twin.WithCache(cfg.Cache.Size, cfg.Cache.TTL),
		twin.WithLogger(e.logger))
	if err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

func (e *env) buildLedger(cctx *cli.Context) (ledger.Ledger, error) {
	if e.cfg.Ledger.Mode == config.LedgerMemory {
		e.logger.Warn("using an in-memory ledger, objects live only as long as this process")

		minFee := "0"
		if e.cfg.Ledger.MinimumFee != "" {
			minFee = e.cfg.Ledger.MinimumFee
		}
		fee, err := ledger.ParseEther(minFee)
		if err != nil {
			return nil, fmt.Errorf("invalid ledger.minimum_fee: %w", err)
		}

		return memledger.New(memledger.WithMinimumFee(fee)), nil
	}

	contract, err := ledger.NewContract(cctx.Context, &ledger.Config{
		RPCURL:          e.cfg.Ledger.RPC,
		ContractAddress: e.cfg.Ledger.Contract,
		ChainID:         e.cfg.Ledger.ChainID,
		GasLimit:        e.cfg.Ledger.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	return contract, nil
}

// buildStore returns the remote content store when one is configured, and
// otherwise composes the local CAS, its mirrors and the index.
func (e *env) buildStore(dbs map[string]*gorm.DB) (store.ContentStore, error) {
	if e.cfg.Store.Remote != "" {
		c, err := grpcstore.Dial(e.cfg.Store.Remote, grpcstore.DialOptions{Timeout: remoteTimeout})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, c.Close)
		e.logger.Info("using remote content store", "addr", e.cfg.Store.Remote)

		return c, nil
	}

	blobs, err := buildCAS(e.cfg.Store.CASDir, e.cfg.Store.Mirrors)
	if err != nil {
		return nil, err
	}
	idx, err := e.buildIndex(dbs, e.cfg.Store.IndexDB)
	if err != nil {
		return nil, err
	}

	return store.New(blobs, idx, store.WithLogger(e.logger)), nil
}

// buildCAS returns the CAS rooted at dir, in memory when dir is empty,
// replicated to every mirror root.
func buildCAS(dir string, mirrors []string) (cas.CAS, error) {
	var local cas.CAS = memory.New()
	if dir != "" {
		fs, err := localfs.New(dir)
		if err != nil {
			return nil, err
		}
		local = fs
	}
	if len(mirrors) == 0 {
		return local, nil
	}

	backends := []cas.Backend{{Name: "local", CAS: local}}
	for _, root := range mirrors {
		fs, err := localfs.New(root)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", root, err)
		}
		backends = append(backends, cas.Backend{Name: root, CAS: fs})
	}

	return &cas.Replicating{Backends: backends}, nil
}

func (e *env) openDB(dbs map[string]*gorm.DB, path string) (*gorm.DB, error) {
	if db, ok := dbs[path]; ok {
		return db, nil
	}

	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	e.closers = append(e.closers, sqlDB.Close)
	dbs[path] = db

	return db, nil
}

func (e *env) buildIndex(dbs map[string]*gorm.DB, path string) (index.Index, error) {
	if path == "" {
		return memindex.New(), nil
	}

	db, err := e.openDB(dbs, path)
	if err != nil {
		return nil, err
	}

	return sqlindex.New(db)
}

func (e *env) buildNonces(dbs map[string]*gorm.DB) (nonce.Registry, error) {
	path := e.cfg.NonceDB()
	if path == "" {
		return nonce.NewMemoryRegistry(), nil
	}

	db, err := e.openDB(dbs, path)
	if err != nil {
		return nil, err
	}

	return nonce.NewSQLRegistry(db)
}

// withEnv runs fn with a wired env and closes it afterwards.
func withEnv(fn func(cctx *cli.Context, e *env) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		e, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer e.Close()

		return fn(cctx, e)
	}
}

// printJSON writes v as indented JSON to the app writer.
func printJSON(cctx *cli.Context, v any) error {
	enc := json.NewEncoder(cctx.App.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}
