package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// adminClient calls the daemon's /api routes.
type adminClient struct {
	http    *http.Client
	baseURL string
	token   string
}

func newAdminClient() (*adminClient, error) {
	baseURL := viper.GetString("admin-url")
	token := viper.GetString("admin-token")
	if baseURL == "" || token == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if baseURL == "" {
			baseURL = "http://" + cfg.Admin.Addr
		}
		if token == "" {
			token = cfg.Admin.Token
		}
	}
	if token == "" {
		return nil, fmt.Errorf("admin token required (--admin-token or admin.token)")
	}
	return &adminClient{
		http:    &http.Client{Timeout: 45 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}, nil
}

// post sends a job control request and returns the decoded response body.
func (c *adminClient) post(ctx context.Context, path string, body io.Reader) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin API unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("admin API returned %d with an unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("admin API: %s (%d)", out["error"], resp.StatusCode)
	}
	return out, nil
}

func jobControlCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " JOB-ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}
			jobID := strings.ToUpper(args[0])
			if _, err := c.post(cmd.Context(), "/api/jobs/"+jobID+"/"+op, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s accepted for %s\n", op, jobID)
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return jobControlCmd("cancel", "Cancel a running job through the daemon")
}

func resumeCmd() *cobra.Command {
	return jobControlCmd("resume", "Resume a paused or stalled job through the daemon")
}
