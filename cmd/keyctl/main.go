package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"channelkeys/internal/config"
	"channelkeys/internal/identityfile"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/observability/logging"
	"channelkeys/internal/store"
	"channelkeys/internal/tenant"

	"github.com/spf13/cobra"
)

var (
	cfg           config.Config
	tenantID      string
	identityPath  string
	passphraseEnv string
	logLevel      string

	rootCmd = &cobra.Command{
		Use:   "keyctl",
		Short: "Operate channel keys, invites and migrations for a tenant",
		Long: `keyctl works directly against a tenant store. It holds your identity in a
passphrase-sealed file and never sends private key material anywhere.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			level := cfg.LogLevel
			if logLevel != "" {
				level = logLevel
			}
			slog.SetDefault(logging.NewLogger(logging.Config{
				ServiceName: "keyctl",
				Environment: cfg.Environment,
				Level:       level,
				Output:      os.Stderr,
			}))
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	rootCmd.PersistentFlags().StringVarP(&identityPath, "identity", "i", defaultIdentityPath(), "sealed identity file")
	rootCmd.PersistentFlags().StringVar(&passphraseEnv, "passphrase-env", "KEYCTL_PASSPHRASE", "environment variable holding the identity passphrase")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(identityCmd, channelCmd, inviteCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "keyctl-identity.age"
	}
	return filepath.Join(dir, "channelkeys", "identity.age")
}

func passphrase() (string, error) {
	p := os.Getenv(passphraseEnv)
	if p == "" {
		return "", fmt.Errorf("set %s to the identity passphrase", passphraseEnv)
	}
	return p, nil
}

func loadIdentity() (*keywrap.Identity, error) {
	p, err := passphrase()
	if err != nil {
		return nil, err
	}
	return identityfile.Load(identityPath, p)
}

// openTenant opens the --tenant store. The returned func closes it.
func openTenant(ctx context.Context) (*store.Store, func(), error) {
	if tenantID == "" {
		return nil, nil, fmt.Errorf("--tenant is required")
	}
	reg, err := tenant.NewRegistry(tenant.Config{
		Driver:      cfg.TenantDriver,
		DataDir:     cfg.TenantDataDir,
		DSNTemplate: cfg.TenantDSNTemplate,
		LogSQL:      cfg.LogSQL,
	})
	if err != nil {
		return nil, nil, err
	}
	st, err := reg.Store(ctx, tenantID)
	if err != nil {
		_ = reg.Close()
		return nil, nil, err
	}
	return st, func() { _ = reg.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
