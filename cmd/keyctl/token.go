package main

import (
	"fmt"
	"os"
	"time"

	"channelkeys/internal/jwtsigner"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTenants []string
	tokenTTL     time.Duration
	tokenKeyEnv  string
	tokenKeyID   string
	tokenJWK     bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for the keysd admin API",
	Long: `Without --ed25519-key-env the token is signed HS256 with OPERATOR_HS256_SECRET.
With it, the named variable holds a base64 Ed25519 private key and --jwk
prints the matching public key for the JWKS endpoint keysd trusts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := newSigner()
		if err != nil {
			return err
		}
		if tokenJWK {
			jwk := signer.PublicJWK()
			if jwk == nil {
				return fmt.Errorf("HS256 keys have no public JWK")
			}
			return printJSON(map[string]any{"keys": []any{jwk}})
		}
		tok, err := signer.SignOperator(tokenSubject, tokenTenants, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func newSigner() (*jwtsigner.Signer, error) {
	if tokenKeyEnv != "" {
		priv := os.Getenv(tokenKeyEnv)
		if priv == "" {
			return nil, fmt.Errorf("%s is empty", tokenKeyEnv)
		}
		return jwtsigner.NewEd25519FromBase64(priv, tokenKeyID, cfg.OperatorIssuer)
	}
	return jwtsigner.NewHS256(cfg.OperatorHS256Secret, cfg.OperatorIssuer)
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator name placed in sub")
	tokenCmd.Flags().StringSliceVar(&tokenTenants, "tenants", nil, `tenants the token may manage, "*" for all`)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenKeyEnv, "ed25519-key-env", "", "environment variable with a base64 Ed25519 private key")
	tokenCmd.Flags().StringVar(&tokenKeyID, "kid", "keyctl", "key id for Ed25519 tokens")
	tokenCmd.Flags().BoolVar(&tokenJWK, "jwk", false, "print the public JWK set instead of a token")
}
