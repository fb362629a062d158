package main

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/examcert/internal/identity"
	"github.com/jmerrifield20/examcert/internal/signer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenOperator string
	tokenKeyFile  string
	tokenIssuer   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator bearer token from the portal's identity key",
	Long: `Token signs an operator token with the portal's RSA identity key. Run it
on the portal host and store the output as operator_token in the certctl
config. The issuer must match the portal's public URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := identity.LoadKey(tokenKeyFile)
		if err != nil {
			return err
		}
		issuer := tokenIssuer
		if issuer == "" {
			issuer = strings.TrimRight(portalURL, "/")
		}
		tok, err := identity.NewTokenIssuer(key, issuer, tokenTTL).Issue(tokenOperator)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name recorded in the token (required)")
	tokenCmd.Flags().StringVar(&tokenKeyFile, "key-file", "keys/operator.pem", "portal identity key (PEM)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "token issuer (default: the portal URL)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the ed25519 key that signs anchor transactions",
	Long: `Keygen writes a new signing key and prints its public half. Add the
public key to signer.public_keys in the portal config so the ledger accepts
anchors signed with it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := keygenOut
		if path == "" {
			path = viper.GetString("signing_key_file")
		}
		key, err := signer.GenerateKey(path)
		if err != nil {
			return err
		}
		pub := key.Public().(ed25519.PublicKey)
		fmt.Printf("Key file:   %s\n", path)
		fmt.Printf("Key ID:     %s\n", signer.KeyID(pub))
		fmt.Printf("Public key: %s\n", signer.EncodePublicKey(pub))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "key file path (default: signing_key_file)")
}
