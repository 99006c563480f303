package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/pubkey"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/signer"
)

var keygen = &cli.Command{
	Name:  "keygen",
	Usage: "Generate a secp256k1 key pair and its DID",
	Action: func(cctx *cli.Context) error {
		method := did.DefaultMethod
		if cctx.IsSet("method") {
			method = cctx.String("method")
		}

		kp, err := did.GenerateECDSAKeyPair()
		if err != nil {
			return err
		}
		x, y, err := pubkey.Split(kp.GetPublicKeyBytes())
		if err != nil {
			return err
		}

		return printJSON(cctx, map[string]string{
			"address":    kp.GetAddress().Hex(),
			"did":        kp.GetDID(method),
			"publicKey":  hexutil.Encode(kp.GetPublicKeyBytes()),
			"publicKeyX": hexutil.Encode(x[:]),
			"publicKeyY": hexutil.Encode(y[:]),
			"privateKey": kp.GetPrivateKeyHex(),
		})
	},
}

var objectCmd = &cli.Command{
	Name:  "object",
	Usage: "Create and inspect objects",
	Subcommands: []*cli.Command{
		objectCreate,
		objectShow,
		objectTransfer,
	},
}

type createdOutput struct {
	ID          ledger.ObjectID `json:"id"`
	DID         string          `json:"did"`
	Address     common.Address  `json:"address"`
	PublicKey   hexutil.Bytes   `json:"publicKey"`
	PrivateKey  string          `json:"privateKey"`
	MetadataRef string          `json:"metadataRef"`
	Creator     common.Address  `json:"creator"`
	TxHash      string          `json:"txHash"`
	BearerLink  string          `json:"bearerLink"`
}

var objectCreate = &cli.Command{
	Name:  "create",
	Usage: "Register a new object with metadata",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "description"},
		&cli.StringFlag{Name: "type", Usage: "item or location"},
		&cli.StringFlag{Name: "metadata-file", Usage: "JSON metadata, merged under the other flags"},
		&cli.StringFlag{Name: "fee", Value: "0", Usage: "creation fee in ether"},
		&cli.StringFlag{
			Name:    "creator-key",
			Usage:   "sign the creation with this key instead of the new object key",
			EnvVars: []string{"TWIN_CREATOR_KEY"},
		},
		&cli.StringFlag{Name: "object-key", Usage: "register this key instead of a new one"},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		metadata, err := metadataFromFlags(cctx)
		if err != nil {
			return err
		}

		var opts []object.CreateOption
		if k := cctx.String("creator-key"); k != "" {
			p, err := signer.NewDefaultProvider(k)
			if err != nil {
				return err
			}
			opts = append(opts, object.WithCreator(p))
		}
		if k := cctx.String("object-key"); k != "" {
			kp, err := did.KeyPairFromPrivateKeyHex(k)
			if err != nil {
				return err
			}
			opts = append(opts, object.WithKeyPair(kp))
		}

		created, err := e.client.CreateObject(cctx.Context, metadata, cctx.String("fee"), opts...)
		if err != nil {
			return err
		}

		id := created.Identity
		out := createdOutput{
			ID:          id.ID,
			DID:         id.DID,
			Address:     id.Address,
			PublicKey:   id.PublicKey,
			PrivateKey:  id.PrivateKeyHex(),
			MetadataRef: id.MetadataRef.String(),
			Creator:     id.CreatorAddress,
			BearerLink: redemption.BearerLink{
				ObjectDID:     id.DID,
				PrivateKeyHex: id.PrivateKeyHex(),
			}.Encode(e.cfg.Redemption.LinkBase),
		}
		if created.Transaction != nil {
			out.TxHash = created.Transaction.TxHash
		}

		return printJSON(cctx, out)
	}),
}

func metadataFromFlags(cctx *cli.Context) (map[string]any, error) {
	metadata := map[string]any{}
	if path := cctx.String("metadata-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata file: %w", err)
		}
		if err := json.Unmarshal(data, &metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata file: %w", err)
		}
	}

	for _, name := range []string{"name", "description", "type"} {
		if cctx.IsSet(name) {
			metadata[name] = cctx.String(name)
		}
	}

	return metadata, nil
}

func objectIDArg(cctx *cli.Context) (ledger.ObjectID, error) {
	if cctx.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one object id")
	}

	id, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", cctx.Args().First(), err)
	}

	return ledger.ObjectID(id), nil
}

var objectShow = &cli.Command{
	Name:      "show",
	Usage:     "Show the registered details and metadata of an object",
	ArgsUsage: "<id>",
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		id, err := objectIDArg(cctx)
		if err != nil {
			return err
		}

		view, err := e.client.FetchObjectDetails(cctx.Context, id)
		if err != nil {
			return err
		}

		return printJSON(cctx, view)
	}),
}

var objectTransfer = &cli.Command{
	Name:      "transfer",
	Usage:     "Transfer ownership of an object",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "to", Required: true},
		&cli.StringFlag{Name: "owner-key", Required: true, EnvVars: []string{"TWIN_OWNER_KEY"}},
	},
	Action: withEnv(func(cctx *cli.Context, e *env) error {
		id, err := objectIDArg(cctx)
		if err != nil {
			return err
		}
		if !common.IsHexAddress(cctx.String("to")) {
			return fmt.Errorf("invalid new owner address %q", cctx.String("to"))
		}
		owner, err := signer.NewDefaultProvider(cctx.String("owner-key"))
		if err != nil {
			return err
		}

		receipt, err := e.client.TransferOwnership(cctx.Context, id, common.HexToAddress(cctx.String("to")), owner)
		if err != nil {
			return err
		}

		return printJSON(cctx, receipt)
	}),
}
