package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/metrics"
)

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt KEY=VALUE...",
		Short: "Write API keys to the encrypted secrets file",
		Long: `Encrypts the given secrets into <work_dir>/secrets.json.enc. Existing secrets
are kept unless overwritten. The passphrase is the database passphrase
(` + config.EnvDBPassphrase + `); it is prompted for when unset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseAssignments(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			passphrase := cfg.Database.Passphrase
			if passphrase == "" {
				if passphrase, err = promptForPassphrase(); err != nil {
					return err
				}
			}

			secrets := map[string]string{}
			if config.SecretsFileExists(cfg.WorkDir) {
				if secrets, err = config.DecryptSecretsFile(cfg.WorkDir, passphrase); err != nil {
					return err
				}
			}
			for k, v := range updates {
				secrets[k] = v
			}
			if err := config.EncryptSecretsFile(cfg.WorkDir, passphrase, secrets); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔐 %d secrets saved (file permissions: 0600)\n", len(secrets))
			return nil
		},
	}
}

func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", a)
		}
		out[k] = v
	}
	return out, nil
}

// promptForPassphrase reads a passphrase twice from the terminal.
func promptForPassphrase() (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("no passphrase: set %s or run interactively", config.EnvDBPassphrase)
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	defer func() {
		clear(first)
		clear(second)
	}()
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(first), nil
}

func statsCmd() *cobra.Command {
	var prometheusURL string
	cmd := &cobra.Command{
		Use:   "stats [JOB-ID]",
		Short: "Show per-job cycle and token totals from Prometheus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err
			}
			var all map[string]*metrics.JobMetrics
			if len(args) == 1 {
				m, err := q.GetJobMetrics(cmd.Context(), strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				all = map[string]*metrics.JobMetrics{m.JobID: m}
			} else if all, err = q.GetAllJobMetrics(cmd.Context()); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), all)
			}

			ids := make([]string, 0, len(all))
			for id := range all {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Job", "Cycles", "Prompt tokens", "Actions"})
			for _, id := range ids {
				m := all[id]
				tw.AppendRow(table.Row{id, m.Cycles, m.PromptTokens, formatActions(m.Actions)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "http://localhost:9090", "Prometheus server URL")
	return cmd
}

func formatActions(actions map[string]int64) string {
	keys := make([]string, 0, len(actions))
	for k := range actions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, actions[k]))
	}
	return strings.Join(parts, " ")
}
