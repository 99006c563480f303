package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// demo runs one object through both protocols in a single process, which is
// the only way to exercise them end to end against the in-memory ledger.
var demo = &cli.Command{
	Name:  "demo",
	Usage: "Create an object, prove presence at it and redeem it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Value: "Bench A"},
		&cli.StringFlag{Name: "fee", Value: "0.001"},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		ctx := cctx.Context

		created, err := e.client.CreateObject(ctx, map[string]any{"name": cctx.String("name")}, cctx.String("fee"))
		if err != nil {
			return err
		}
		id := created.Identity
		e.logger.Info("object created", "id", id.ID, "did", id.DID)

		user, err := did.GenerateECDSAKeyPair()
		if err != nil {
			return err
		}
		userDID := user.GetDID(e.cfg.DID.Method)

		sp, err := e.client.SignPresencePayload(signer.NewProviderFromKey(id.PrivateKey), id.ID, "", "")
		if err != nil {
			return err
		}
		qr, err := presence.EncodeQR(sp)
		if err != nil {
			return err
		}
		sub, err := e.client.VerifyPresenceAndSubmitClaim(ctx, sp, signer.NewProviderFromKey(user.PrivateKey))
		if err != nil {
			return err
		}
		if _, ok := sub.Receipt.Find(ledger.EventInteractionRecorded); !ok {
			return fmt.Errorf("interaction was not recorded for object %d", id.ID)
		}

		bearer := redemption.BearerLink{ObjectDID: id.DID, PrivateKeyHex: id.PrivateKeyHex()}.Encode(e.cfg.Redemption.LinkBase)
		r, err := e.client.RedeemLink(ctx, bearer, userDID)
		if err != nil {
			return err
		}
		if _, err := e.client.VerifyRedemptionReference(ctx, r.Reference); err != nil {
			return err
		}

		return printJSON(cctx, map[string]any{
			"objectId":         id.ID,
			"objectDID":        id.DID,
			"userDID":          userDID,
			"presenceQR":       qr,
			"claimHash":        sub.Claim.ClaimHash,
			"interactionTx":    sub.Receipt.TxHash,
			"bearerLink":       bearer,
			"redemption":       r.Record,
			"verificationLink": redemption.EncodeVerificationLink(e.cfg.Redemption.LinkBase, r.Reference),
		})
	}),
}
