package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/store"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge the persistent response cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached responses",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() { metrics.RecordCommand("cache.list", err == nil) }()

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		query := cacheQueryFromFlags(cmd)
		if query == (store.CacheQuery{}) {
			query.All = true
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListCacheEntries(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openTarget(cmd, format, "cache.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if len(entries) == 0 && format == output.FormatTable {
			_, err = fmt.Fprint(sink.writer, ascii.DrawBox("Response Cache\n\n(no cached responses)", 0))
			return err
		}
		rendered, err := output.NewFormatter(format).FormatCacheEntries(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached responses",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() { metrics.RecordCommand("cache.purge", err == nil) }()

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := cacheQueryFromFlags(cmd)
		if err := query.Validate(); err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !query.Expired && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountCacheEntries(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openTarget(cmd, format, "cache.purge")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if dryRun {
			return writeCachePurgeResult(format, sink.writer, matched, 0, true)
		}
		deleted, err := db.PurgeCacheEntries(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeCachePurgeResult(format, sink.writer, matched, deleted, false)
	},
}

func cacheQueryFromFlags(cmd *cobra.Command) store.CacheQuery {
	all, _ := cmd.Flags().GetBool("all")
	expired, _ := cmd.Flags().GetBool("expired")
	key, _ := cmd.Flags().GetString("key")
	prefix, _ := cmd.Flags().GetString("prefix")
	key = strings.TrimSpace(key)
	if normalized, err := core.NormalizeKey(key, nil); err == nil {
		key = normalized
	}
	return store.CacheQuery{
		All:     all,
		Expired: expired,
		Key:     key,
		Prefix:  strings.TrimSpace(prefix),
	}
}

func writeCachePurgeResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d cached response(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d cached response(s)\n", deleted, matched)
	return err
}

func init() {
	for _, c := range []*cobra.Command{cacheListCmd, cachePurgeCmd} {
		addOutputFlags(c)
		c.Flags().Bool("all", false, "Match every entry")
		c.Flags().Bool("expired", false, "Match expired entries only")
		c.Flags().String("key", "", "Match one cache key exactly (e.g. 'GET https://api.example.com/v1?q=x')")
		c.Flags().String("prefix", "", "Match cache keys with this prefix")
	}
	cachePurgeCmd.Flags().Bool("yes", false, "Confirm purging every entry")
	cachePurgeCmd.Flags().Bool("dry-run", false, "Show what would be deleted")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
