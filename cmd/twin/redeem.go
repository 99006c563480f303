package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pilacorp/go-twin-sdk/redemption"
)

type referenceOutput struct {
	ObjectDID        string `json:"objectDID"`
	Signature        string `json:"signature"`
	CID              string `json:"cid"`
	VerificationLink string `json:"verificationLink"`
}

func newReferenceOutput(e *env, ref redemption.Reference) referenceOutput {
	return referenceOutput{
		ObjectDID:        ref.ObjectDID,
		Signature:        ref.Signature,
		CID:              ref.RecordCID.String(),
		VerificationLink: redemption.EncodeVerificationLink(e.cfg.Redemption.LinkBase, ref),
	}
}

var redeem = &cli.Command{
	Name:  "redeem",
	Usage: "Redeem an object with its bearer link or key on behalf of a user",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "link", Usage: "bearer link redeem=<did>&key=<hex>"},
		&cli.StringFlag{Name: "key", Usage: "object private key", EnvVars: []string{"TWIN_OBJECT_KEY"}},
		&cli.StringFlag{Name: "user", Usage: "user DID", Required: true},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		var (
			r   *redemption.Redemption
			err error
		)
		switch {
		case cctx.String("link") != "":
			r, err = e.client.RedeemLink(cctx.Context, cctx.String("link"), cctx.String("user"))
		case cctx.String("key") != "":
			r, err = e.client.BuildAndPersistRedemption(cctx.Context, cctx.String("key"), cctx.String("user"))
		default:
			return fmt.Errorf("either --link or --key is required")
		}
		if err != nil {
			return err
		}

		return printJSON(cctx, map[string]any{
			"record":    r.Record,
			"reference": newReferenceOutput(e, r.Reference),
		})
	}),
}

var redemptionsCmd = &cli.Command{
	Name:  "redemptions",
	Usage: "Look up stored redemptions",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List the current redemption of every object a user redeemed",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Required: true},
			},
			Action: withEnv(func(cctx *cli.Context, e *env) error {
				refs, err := e.client.ListRedemptions(cctx.Context, cctx.String("user"))
				if err != nil {
					return err
				}

				out := make([]referenceOutput, 0, len(refs))
				for _, ref := range refs {
					out = append(out, newReferenceOutput(e, ref))
				}

				return printJSON(cctx, out)
			}),
		},
		{
			Name:  "latest",
			Usage: "Show the current redemption of an object by a user",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Required: true},
				&cli.StringFlag{Name: "object", Required: true},
			},
			Action: withEnv(func(cctx *cli.Context, e *env) error {
				ref, err := e.client.ResolveRedemption(cctx.Context, cctx.String("user"), cctx.String("object"))
				if err != nil {
					return err
				}

				return printJSON(cctx, newReferenceOutput(e, *ref))
			}),
		},
	},
}

var verify = &cli.Command{
	Name:  "verify",
	Usage: "Verify a redemption from its verification link or reference fields",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "link", Usage: "did=<did>&signature=<sig>&cid=<cid>"},
		&cli.StringFlag{Name: "did"},
		&cli.StringFlag{Name: "signature"},
		&cli.StringFlag{Name: "cid"},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		var (
			ref *redemption.Reference
			err error
		)
		if link := cctx.String("link"); link != "" {
			ref, err = redemption.ParseVerificationLink(link)
		} else {
			ref, err = redemption.ReferenceFromStrings(cctx.String("did"), cctx.String("signature"), cctx.String("cid"))
		}
		if err != nil {
			return err
		}

		record, err := e.client.VerifyRedemptionReference(cctx.Context, *ref)
		if err != nil {
			return err
		}

		return printJSON(cctx, map[string]any{
			"valid":  true,
			"cid":    ref.RecordCID.String(),
			"record": record,
		})
	}),
}
