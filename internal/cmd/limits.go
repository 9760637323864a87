package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/output"
	"github.com/benetwork/benetwork/internal/server/handlers"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and reset rate limiters",
	Long: `Inspect and reset rate limiters.

Limiter state lives in memory. Without --server these commands show the
limiters declared in config; with --server they talk to a running
"benetwork serve" admin API and see live state.`,
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rate limiters",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() { metrics.RecordCommand("limits.list", err == nil) }()

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		var snapshots []limiter.Snapshot
		if serverURL, _ := cmd.Flags().GetString("server"); strings.TrimSpace(serverURL) != "" {
			client := newAdminClient(serverURL)
			if err := client.call(cmd.Context(), http.MethodGet, "/v1/limiters", &snapshots); err != nil {
				return err
			}
		} else {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := limiter.BuildRegistry(cfg.RateLimits)
			if err != nil {
				return err
			}
			snapshots = registry.Snapshots()
		}

		rendered, err := output.NewFormatter(format).FormatLimiters(snapshots)
		if err != nil {
			return err
		}
		sink, err := openTarget(cmd, format, "limits.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset [name]",
	Short: "Reset a rate limiter on a running server",
	Long: `Restore a limiter's baseline rate and clear its window, cooldown and
adjustment state. Use --all to reset every limiter.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() { metrics.RecordCommand("limits.reset", err == nil) }()

		all, _ := cmd.Flags().GetBool("all")
		serverURL, _ := cmd.Flags().GetString("server")
		if strings.TrimSpace(serverURL) == "" {
			return errors.New("--server is required: limiter state only exists inside a running process")
		}

		path, err := resetPath(args, all)
		if err != nil {
			return err
		}

		var resp handlers.ResetResponse
		if err := newAdminClient(serverURL).call(cmd.Context(), http.MethodPost, path, &resp); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d limiter(s): %s\n", len(resp.Reset), strings.Join(resp.Reset, ", "))
		return err
	},
}

func resetPath(args []string, all bool) (string, error) {
	switch {
	case all && len(args) > 0:
		return "", errors.New("pass a limiter name or --all, not both")
	case all:
		return "/v1/limiters/reset", nil
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return "/v1/limiters/" + url.PathEscape(strings.TrimSpace(args[0])) + "/reset", nil
	default:
		return "", errors.New("must specify a limiter name or --all")
	}
}

// adminClient calls the admin API of a running server.
type adminClient struct {
	base   string
	client *http.Client
}

func newAdminClient(base string) *adminClient {
	return &adminClient{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *adminClient) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			return fmt.Errorf("admin API %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("admin API returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func init() {
	for _, c := range []*cobra.Command{limitsListCmd, limitsResetCmd} {
		c.Flags().String("server", "", "Admin API base URL of a running server (e.g. http://localhost:8080)")
	}
	addOutputFlags(limitsListCmd)
	limitsResetCmd.Flags().Bool("all", false, "Reset every limiter")

	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsResetCmd)
	rootCmd.AddCommand(limitsCmd)
}
