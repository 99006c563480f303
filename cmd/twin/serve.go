package main

import (
	"fmt"
	"net"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"github.com/pilacorp/go-twin-sdk/api"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/grpcstore"
)

var serve = &cli.Command{
	Name:  "serve",
	Usage: "Serve the verification API over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", EnvVars: []string{"TWIN_API_ADDR"}},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		addr := e.cfg.API.Listen
		if cctx.IsSet("addr") {
			addr = cctx.String("addr")
		}

		s, err := api.New(&api.Args{
			Addr:     addr,
			Version:  Version,
			Logger:   e.logger,
			Verifier: e.client,
		})
		if err != nil {
			return err
		}

		return s.Serve(cctx.Context)
	}),
}

var stored = &cli.Command{
	Name:  "stored",
	Usage: "Serve a content store (filesystem CAS and key index) over gRPC",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", EnvVars: []string{"TWIN_STORED_ADDR"}},
		&cli.StringFlag{Name: "dir", Usage: "CAS root directory", EnvVars: []string{"TWIN_STORED_DIR"}},
		&cli.StringFlag{Name: "db", Usage: "sqlite file of the key index", EnvVars: []string{"TWIN_STORED_DB"}},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		e := &env{cfg: cfg, logger: cfg.Logger()}
		defer e.Close()

		sc := cfg.StoreServer
		if cctx.IsSet("addr") {
			sc.Listen = cctx.String("addr")
		}
		if cctx.IsSet("dir") {
			sc.CASDir = cctx.String("dir")
		}
		if cctx.IsSet("db") {
			sc.IndexDB = cctx.String("db")
		}
		if sc.CASDir == "" {
			return fmt.Errorf("store_server.cas_dir is required")
		}

		blobs, err := buildCAS(sc.CASDir, nil)
		if err != nil {
			return err
		}
		idx, err := e.buildIndex(map[string]*gorm.DB{}, sc.IndexDB)
		if err != nil {
			return err
		}
		if sc.IndexDB == "" {
			e.logger.Warn("serving an in-memory index, keys live only as long as this process")
		}

		lis, err := net.Listen("tcp", sc.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", sc.Listen, err)
		}

		srv := grpc.NewServer()
		grpcstore.RegisterContentStoreServer(srv, &grpcstore.Server{
			Store:  store.New(blobs, idx, store.WithLogger(e.logger)),
			Logger: e.logger,
		})

		go func() {
			<-cctx.Context.Done()
			srv.GracefulStop()
		}()

		e.logger.Info("content store listening", "addr", lis.Addr().String(), "dir", sc.CASDir, "index", sc.IndexDB)
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("failed to serve content store: %w", err)
		}

		return nil
	},
}
