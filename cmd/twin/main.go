package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "twin",
		Usage: "Verifiable digital twins: objects, proof of presence and redemptions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Value:   "twin.yaml",
				EnvVars: []string{"TWIN_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "ledger",
				Usage:   "ledger mode: memory or rpc",
				EnvVars: []string{"TWIN_LEDGER"},
			},
			&cli.StringFlag{
				Name:    "rpc",
				EnvVars: []string{"TWIN_RPC"},
			},
			&cli.Int64Flag{
				Name:    "chain-id",
				EnvVars: []string{"TWIN_CHAIN_ID"},
			},
			&cli.StringFlag{
				Name:    "contract",
				EnvVars: []string{"TWIN_CONTRACT"},
			},
			&cli.StringFlag{
				Name:    "method",
				Usage:   "DID method of object identifiers",
				EnvVars: []string{"TWIN_DID_METHOD"},
			},
			&cli.StringFlag{
				Name:    "cas-dir",
				EnvVars: []string{"TWIN_CAS_DIR"},
			},
			&cli.StringSliceFlag{
				Name:    "cas-mirror",
				Usage:   "extra filesystem CAS root every blob is also written to",
				EnvVars: []string{"TWIN_CAS_MIRRORS"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "gRPC address of a content store served by 'twin stored'",
				EnvVars: []string{"TWIN_STORE"},
			},
			&cli.StringFlag{
				Name:    "index-db",
				EnvVars: []string{"TWIN_INDEX_DB"},
			},
			&cli.StringFlag{
				Name:    "write-policy",
				Usage:   "redemption write policy: last-write-wins or first-write-wins",
				EnvVars: []string{"TWIN_WRITE_POLICY"},
			},
			&cli.DurationFlag{
				Name:    "max-payload-age",
				EnvVars: []string{"TWIN_MAX_PAYLOAD_AGE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"TWIN_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			keygen,
			objectCmd,
			presenceCmd,
			redeem,
			redemptionsCmd,
			verify,
			demo,
			serve,
			stored,
		},
		Writer:    out,
		ErrWriter: os.Stderr,
		Version:   Version,
	}
}
