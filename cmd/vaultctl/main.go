package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/api/clients"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/token"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"SOULBOX_SERVER"},
	Usage:   "vault API address",
}

var flagToken = &cli.StringFlag{
	Name:    "token",
	EnvVars: []string{"SOULBOX_TOKEN"},
	Usage:   "bearer token (creator, beneficiary or guardian depending on the command)",
}

var flagID = &cli.StringFlag{Name: "id", Required: true}
var flagSession = &cli.StringFlag{Name: "session", Required: true, Usage: "unlock session id"}
var flagGuardian = &cli.StringFlag{Name: "guardian", Required: true, Usage: "guardian id"}

func client(cCtx *cli.Context) *clients.VaultClient {
	return clients.NewVaultClient(cCtx.String(flagServer.Name), cCtx.String(flagToken.Name))
}

func uuidFlag(cCtx *cli.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(cCtx.String(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readOptionalFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func main() {
	app := &cli.App{
		Name:  "vaultctl",
		Usage: "Command line client for the SoulBox vault",
		Flags: []cli.Flag{flagServer, flagToken},
		Commands: []*cli.Command{
			tokenCommand,
			keygenCommand,
			guardianCommand,
			beneficiaryCommand,
			sealCommand,
			itemsCommand,
			auditCommand,
			verifyCommand,
			requestCommand,
			releaseCommand,
			statusCommand,
			collectCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "mint a creator token with the server's JWT secret",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "jwt-secret", Required: true, EnvVars: []string{"SOULBOX_JWT_SECRET"}},
		&cli.StringFlag{Name: "account", Usage: "creator account id, generated when empty"},
		&cli.DurationFlag{Name: "ttl", Value: time.Hour},
	},
	Action: func(cCtx *cli.Context) error {
		jwt, err := token.NewJWT(cCtx.String("jwt-secret"))
		if err != nil {
			return err
		}

		account := uuid.New()
		if cCtx.String("account") != "" {
			if account, err = uuidFlag(cCtx, "account"); err != nil {
				return err
			}
		}

		tok, err := jwt.IssueCreatorToken(account, cCtx.Duration("ttl"))
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"accountId": account.String(), "token": tok})
	},
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate a P-256 key pair for guardian custody or payload delivery",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "private-key", Value: "private.pem"},
		&cli.StringFlag{Name: "public-key", Value: "public.pem"},
	},
	Action: func(cCtx *cli.Context) error {
		privPEM, pubPEM, err := cryptoutils.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := os.WriteFile(cCtx.String("private-key"), privPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := os.WriteFile(cCtx.String("public-key"), pubPEM, 0o644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s and %s\n", cCtx.String("private-key"), cCtx.String("public-key"))
		return nil
	},
}

var guardianCommand = &cli.Command{
	Name:  "guardian",
	Usage: "manage guardians (creator token)",
	Subcommands: []*cli.Command{
		{
			Name: "add",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "email", Required: true},
				&cli.StringFlag{Name: "public-key", Usage: "PEM file; shares are then held by the guardian"},
			},
			Action: func(cCtx *cli.Context) error {
				pub, err := readOptionalFile(cCtx.String("public-key"))
				if err != nil {
					return err
				}
				g, err := client(cCtx).AddGuardian(cCtx.Context, api.GuardianRequest{
					Name:      cCtx.String("name"),
					Email:     cCtx.String("email"),
					PublicKey: string(pub),
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			},
		},
		{
			Name: "list",
			Action: func(cCtx *cli.Context) error {
				guardians, err := client(cCtx).ListGuardians(cCtx.Context)
				if err != nil {
					return err
				}
				return printJSON(guardians)
			},
		},
		{
			Name: "update",
			Flags: []cli.Flag{
				flagID,
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "email", Required: true},
			},
			Action: func(cCtx *cli.Context) error {
				id, err := uuidFlag(cCtx, flagID.Name)
				if err != nil {
					return err
				}
				g, err := client(cCtx).UpdateGuardian(cCtx.Context, id, api.GuardianRequest{
					Name:  cCtx.String("name"),
					Email: cCtx.String("email"),
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			},
		},
		{
			Name:  "delete",
			Usage: "delete the guardian and revoke its shards",
			Flags: []cli.Flag{flagID},
			Action: func(cCtx *cli.Context) error {
				id, err := uuidFlag(cCtx, flagID.Name)
				if err != nil {
					return err
				}
				return client(cCtx).DeleteGuardian(cCtx.Context, id)
			},
		},
	},
}

var beneficiaryCommand = &cli.Command{
	Name:  "beneficiary",
	Usage: "manage beneficiaries (creator token)",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "register a beneficiary; prints its secret token once",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "first-name", Required: true},
				&cli.StringFlag{Name: "last-name", Required: true},
				&cli.StringFlag{Name: "email", Required: true},
				&cli.StringFlag{Name: "phone"},
				&cli.StringFlag{Name: "relationship"},
				&cli.StringFlag{Name: "secret-question"},
				&cli.StringFlag{Name: "id-number", Required: true},
			},
			Action: func(cCtx *cli.Context) error {
				created, err := client(cCtx).AddBeneficiary(cCtx.Context, api.BeneficiaryRequest{
					FirstName:      cCtx.String("first-name"),
					LastName:       cCtx.String("last-name"),
					Email:          cCtx.String("email"),
					Phone:          cCtx.String("phone"),
					Relationship:   cCtx.String("relationship"),
					SecretQuestion: cCtx.String("secret-question"),
					IDNumber:       cCtx.String("id-number"),
				})
				if err != nil {
					return err
				}
				return printJSON(created)
			},
		},
		{
			Name: "list",
			Action: func(cCtx *cli.Context) error {
				beneficiaries, err := client(cCtx).ListBeneficiaries(cCtx.Context)
				if err != nil {
					return err
				}
				return printJSON(beneficiaries)
			},
		},
		{
			Name:  "delete",
			Flags: []cli.Flag{flagID},
			Action: func(cCtx *cli.Context) error {
				id, err := uuidFlag(cCtx, flagID.Name)
				if err != nil {
					return err
				}
				return client(cCtx).DeleteBeneficiary(cCtx.Context, id)
			},
		},
		{
			Name:  "send-token",
			Usage: "rotate the secret token and deliver it to the beneficiary",
			Flags: []cli.Flag{
				flagID,
				&cli.StringFlag{Name: "method", Value: string(interfaces.DeliveryEmail), Usage: "email or sms"},
			},
			Action: func(cCtx *cli.Context) error {
				id, err := uuidFlag(cCtx, flagID.Name)
				if err != nil {
					return err
				}
				return client(cCtx).SendToken(cCtx.Context, id, interfaces.DeliveryMethod(cCtx.String("method")))
			},
		},
	},
}

var sealCommand = &cli.Command{
	Name:  "seal",
	Usage: "seal a message or file under a k-of-n guardian quorum (creator token)",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "title", Required: true},
		&cli.StringFlag{Name: "description"},
		&cli.StringFlag{Name: "message", Usage: "message text to seal"},
		&cli.StringFlag{Name: "file", Usage: "file to seal instead of a message"},
		&cli.IntFlag{Name: "threshold", Required: true, Usage: "number of guardians required to unlock"},
		&cli.StringSliceFlag{Name: "guardian", Required: true, Usage: "guardian id, repeat for each guardian"},
	},
	Action: func(cCtx *cli.Context) error {
		req := api.SealRequest{
			Title:          cCtx.String("title"),
			Description:    cCtx.String("description"),
			Type:           interfaces.ItemTypeMessage,
			Payload:        []byte(cCtx.String("message")),
			ShardsRequired: cCtx.Int("threshold"),
		}
		if path := cCtx.String("file"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			req.Type = interfaces.ItemTypeFile
			req.Payload = data
		}

		for _, raw := range cCtx.StringSlice("guardian") {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid guardian id %q: %w", raw, err)
			}
			req.GuardianIDs = append(req.GuardianIDs, id)
		}

		item, err := client(cCtx).SealItem(cCtx.Context, req)
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var itemsCommand = &cli.Command{
	Name:  "items",
	Usage: "list sealed items (creator token)",
	Action: func(cCtx *cli.Context) error {
		items, err := client(cCtx).ListItems(cCtx.Context)
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var auditCommand = &cli.Command{
	Name:  "audit",
	Usage: "show the access log of an item (creator token)",
	Flags: []cli.Flag{&cli.StringFlag{Name: "item", Required: true}},
	Action: func(cCtx *cli.Context) error {
		itemID, err := uuidFlag(cCtx, "item")
		if err != nil {
			return err
		}
		records, err := client(cCtx).ItemAudit(cCtx.Context, itemID)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "verify a beneficiary's identity and open an unlock session",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "beneficiary", Required: true},
		&cli.StringFlag{Name: "item", Required: true},
		&cli.StringFlag{Name: "full-name", Required: true},
		&cli.StringFlag{Name: "id-number", Required: true},
		&cli.StringFlag{Name: "secret-token", Required: true},
		&cli.StringFlag{Name: "delivery-key", Required: true, Usage: "PEM public key file the payload is encrypted to"},
	},
	Action: func(cCtx *cli.Context) error {
		beneficiaryID, err := uuidFlag(cCtx, "beneficiary")
		if err != nil {
			return err
		}
		itemID, err := uuidFlag(cCtx, "item")
		if err != nil {
			return err
		}
		deliveryKey, err := readOptionalFile(cCtx.String("delivery-key"))
		if err != nil {
			return err
		}

		res, err := client(cCtx).WithToken("").VerifyIdentity(cCtx.Context, api.VerifyIdentityRequest{
			FullName:          cCtx.String("full-name"),
			IDNumber:          cCtx.String("id-number"),
			SecretToken:       cCtx.String("secret-token"),
			BeneficiaryID:     beneficiaryID,
			ItemID:            itemID,
			DeliveryPublicKey: string(deliveryKey),
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var requestCommand = &cli.Command{
	Name:  "request",
	Usage: "ask a guardian to release its share (beneficiary token)",
	Flags: []cli.Flag{flagSession, flagGuardian},
	Action: func(cCtx *cli.Context) error {
		sessionID, err := uuidFlag(cCtx, flagSession.Name)
		if err != nil {
			return err
		}
		guardianID, err := uuidFlag(cCtx, flagGuardian.Name)
		if err != nil {
			return err
		}
		release, err := client(cCtx).RequestRelease(cCtx.Context, sessionID, guardianID)
		if err != nil {
			return err
		}
		return printJSON(release)
	},
}

var releaseCommand = &cli.Command{
	Name:  "release",
	Usage: "approve or deny a release request (guardian token)",
	Flags: []cli.Flag{
		flagSession,
		flagGuardian,
		&cli.BoolFlag{Name: "deny", Usage: "deny the release and fail the session"},
		&cli.StringFlag{Name: "encrypted-share", Usage: "base64 share from the release notice, for guardian custody"},
		&cli.StringFlag{Name: "private-key", Usage: "PEM private key that decrypts --encrypted-share"},
	},
	Action: func(cCtx *cli.Context) error {
		sessionID, err := uuidFlag(cCtx, flagSession.Name)
		if err != nil {
			return err
		}
		guardianID, err := uuidFlag(cCtx, flagGuardian.Name)
		if err != nil {
			return err
		}

		req := api.ReleaseRequestBody{GuardianID: guardianID, Approve: !cCtx.Bool("deny")}
		if req.Approve && cCtx.String("private-key") != "" {
			share, err := decryptShare(cCtx.String("private-key"), cCtx.String("encrypted-share"))
			if err != nil {
				return err
			}
			defer cryptoutils.Wipe(share)
			req.Share = share
		}

		status, err := client(cCtx).Release(cCtx.Context, sessionID, req)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func decryptShare(privateKeyPath, encryptedShare string) ([]byte, error) {
	if encryptedShare == "" {
		return nil, errors.New("--encrypted-share is required with --private-key")
	}
	sealed, err := base64.StdEncoding.DecodeString(encryptedShare)
	if err != nil {
		return nil, fmt.Errorf("invalid --encrypted-share: %w", err)
	}
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}
	share, err := cryptoutils.DecryptWithPrivateKey(privPEM, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt share: %w", err)
	}
	return share, nil
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "show an unlock session (beneficiary or guardian token)",
	Flags: []cli.Flag{flagSession},
	Action: func(cCtx *cli.Context) error {
		sessionID, err := uuidFlag(cCtx, flagSession.Name)
		if err != nil {
			return err
		}
		status, err := client(cCtx).SessionStatus(cCtx.Context, sessionID)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var collectCommand = &cli.Command{
	Name:  "collect",
	Usage: "download and decrypt the payload of a successful session (beneficiary token)",
	Flags: []cli.Flag{
		flagSession,
		&cli.StringFlag{Name: "private-key", Required: true, Usage: "PEM private key matching the delivery key"},
		&cli.StringFlag{Name: "out", Usage: "write the payload to this file instead of stdout"},
	},
	Action: func(cCtx *cli.Context) error {
		sessionID, err := uuidFlag(cCtx, flagSession.Name)
		if err != nil {
			return err
		}
		privPEM, err := os.ReadFile(cCtx.String("private-key"))
		if err != nil {
			return err
		}

		envelope, err := client(cCtx).CollectPayload(cCtx.Context, sessionID)
		if err != nil {
			return err
		}
		payload, err := cryptoutils.DecryptWithPrivateKey(privPEM, envelope)
		if err != nil {
			return fmt.Errorf("failed to decrypt payload: %w", err)
		}
		defer cryptoutils.Wipe(payload)

		if out := cCtx.String("out"); out != "" {
			return os.WriteFile(out, payload, 0o600)
		}
		_, err = os.Stdout.Write(payload)
		return err
	},
}
