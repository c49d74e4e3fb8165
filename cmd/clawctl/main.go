// Command clawctl inspects and steers an omegaclaw installation from the
// shell: it submits jobs and answers straight into the mailbox, reads the
// job database and talks to the daemon's admin API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/version"
)

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLAWCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clawctl",
		Short:         "omegaclaw operator CLI",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("OMEGACLAW_CONFIG"), "path to the omegaclaw config file")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("admin-url", "", "admin API base URL (default: http://<admin.addr>)")
	root.PersistentFlags().String("admin-token", "", "admin API bearer token (default: admin.token)")
	for _, name := range []string{"config", "json", "admin-url", "admin-token"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(
		submitCmd(),
		answerCmd(),
		jobsCmd(),
		ledgerCmd(),
		logCmd(),
		eventsCmd(),
		cancelCmd(),
		resumeCmd(),
		encryptCmd(),
		statsCmd(),
	)
	return root
}

// loadConfig reads the daemon configuration the CLI operates on.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func withMailbox(fn func(cfg *config.Config, mb *mailbox.Mailbox) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mb, err := mailbox.Open(cfg.WorkDir)
	if err != nil {
		return err
	}
	return fn(cfg, mb)
}

func withStore(fn func(store *persistence.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := persistence.Open(cfg.Database.Path, cfg.Database.Passphrase)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
