package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/signer"
)

var presenceCmd = &cli.Command{
	Name:  "presence",
	Usage: "Type I proof of presence",
	Subcommands: []*cli.Command{
		presenceSign,
		presenceVerify,
		presenceClaim,
	},
}

var qrFlag = &cli.StringFlag{
	Name:     "qr",
	Usage:    "QR text {payload, signature}, or @file",
	Required: true,
}

// readQR returns the QR text of the --qr flag, reading it from a file when
// prefixed with '@'.
func readQR(cctx *cli.Context) (*presence.SignedPayload, error) {
	s := cctx.String("qr")
	if path, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read QR file: %w", err)
		}
		s = string(data)
	}

	return presence.DecodeQR(s)
}

var presenceSign = &cli.Command{
	Name:  "sign",
	Usage: "Sign a presence payload with the device key of an object and print the QR text",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "object-id", Required: true},
		&cli.StringFlag{Name: "key", Required: true, EnvVars: []string{"TWIN_DEVICE_KEY"}},
		&cli.StringFlag{Name: "nonce", Usage: "defaults to a random UUID"},
		&cli.StringFlag{Name: "timestamp", Usage: "defaults to now, RFC 3339"},
	},
	Action: func(cctx *cli.Context) error {
		device, err := signer.NewDefaultProvider(cctx.String("key"))
		if err != nil {
			return err
		}

		sp, err := presence.SignPayload(device, ledger.ObjectID(cctx.Uint64("object-id")),
			cctx.String("nonce"), cctx.String("timestamp"))
		if err != nil {
			return err
		}

		qr, err := presence.EncodeQR(sp)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(cctx.App.Writer, qr)
		return err
	},
}

var presenceVerify = &cli.Command{
	Name:  "verify",
	Usage: "Check a presence QR against the registered object without submitting",
	Flags: []cli.Flag{qrFlag},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		sp, err := readQR(cctx)
		if err != nil {
			return err
		}

		verified, err := e.client.VerifyPresencePayload(cctx.Context, sp)
		if err != nil {
			return err
		}

		return printJSON(cctx, map[string]any{
			"valid":   true,
			"signer":  verified.Signer,
			"payload": verified.Payload,
			"object":  verified.Object,
		})
	}),
}

var presenceClaim = &cli.Command{
	Name:  "claim",
	Usage: "Verify a presence QR and submit the signed interaction claim",
	Flags: []cli.Flag{
		qrFlag,
		&cli.StringFlag{Name: "user-key", Required: true, EnvVars: []string{"TWIN_USER_KEY"}},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		sp, err := readQR(cctx)
		if err != nil {
			return err
		}
		user, err := signer.NewDefaultProvider(cctx.String("user-key"))
		if err != nil {
			return err
		}

		sub, err := e.client.VerifyPresenceAndSubmitClaim(cctx.Context, sp, user)
		if err != nil {
			return err
		}

		return printJSON(cctx, map[string]any{
			"objectId":            sub.Claim.ObjectID,
			"user":                sub.Claim.User,
			"verifiedPayloadHash": sub.Claim.VerifiedPayloadHash,
			"timestamp":           sub.Claim.Timestamp,
			"claimHash":           sub.Claim.ClaimHash,
			"userSignature":       hexutil.Encode(sub.Claim.UserSignature),
			"receipt":             sub.Receipt,
		})
	}),
}
