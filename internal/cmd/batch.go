package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/descriptor"
	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/observability"
	"github.com/benetwork/benetwork/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run many requests concurrently",
	Long: `Run every request in a YAML descriptor file (.yaml/.yml), or every URL in a
text file (one per line, '#' starts a comment), through a bounded worker pool.

Requests sharing a named rate limit share one limiter, so concurrency never
exceeds what the limiter admits.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addOutputFlags(batchCmd)
	batchCmd.Flags().Int("concurrency", 0, "Concurrent requests (default: workers from config)")
	batchCmd.Flags().Bool("fail-fast", false, "Stop dispatching after the first failed request")
	batchCmd.Flags().Bool("failed-only", false, "Only show failed requests")
	batchCmd.Flags().String("rate-limit", "", "Named rate limit for URL lists")
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	defer func() { metrics.RecordCommand("batch", err == nil) }()

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	failFast, _ := cmd.Flags().GetBool("fail-fast")
	failedOnly, _ := cmd.Flags().GetBool("failed-only")
	limitName, _ := cmd.Flags().GetString("rate-limit")

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if concurrency == 0 {
		concurrency = cfg.Workers
	}
	if concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}

	rt, err := buildRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	requests, err := readBatchRequests(rt, args[0], strings.TrimSpace(limitName))
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return errors.New("no requests found in batch file")
	}

	startedAt := time.Now()
	results, runErr := runBatchRequests(ctx, rt.orchestrator, requests, concurrency, failFast)
	results = filterBatchResults(results, failedOnly)

	if err := renderResults(cmd, format, "batch", results); err != nil {
		return err
	}
	logThroughput(len(requests), startedAt, rt.orchestrator.Stats())
	return runErr
}

// runBatchRequests runs requests on at most concurrency goroutines. Results
// keep input order. Without failFast every request runs and the first error
// is returned after all complete.
func runBatchRequests(ctx context.Context, orchestrator *engine.Orchestrator, requests []*core.Request, concurrency int, failFast bool) ([]output.Result, error) {
	results := make([]output.Result, len(requests))
	dispatched := make([]bool, len(requests))
	var inFlight atomic.Int64
	var firstErr error
	var errOnce atomic.Bool

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, req := range requests {
		if groupCtx.Err() != nil {
			break
		}
		dispatched[i] = true
		group.Go(func() error {
			metrics.SetBatchInFlight(inFlight.Inc())
			defer func() { metrics.SetBatchInFlight(inFlight.Dec()) }()

			resp, err := orchestrator.Do(groupCtx, req)
			results[i] = output.NewResult(req, resp, err)
			if err == nil {
				return nil
			}
			if errOnce.CompareAndSwap(false, true) {
				firstErr = err
			}
			if failFast {
				return err
			}
			return nil
		})
	}

	groupErr := group.Wait()
	for i, req := range requests {
		if !dispatched[i] {
			results[i] = output.NewResult(req, nil, &core.RequestError{Kind: core.KindCanceled, Err: context.Canceled})
		}
	}
	if groupErr != nil {
		return results, groupErr
	}
	return results, firstErr
}

// readBatchRequests loads a descriptor file or a URL list.
func readBatchRequests(rt *appRuntime, path string, limitName string) ([]*core.Request, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		specs, err := descriptor.Load(path)
		if err != nil {
			return nil, err
		}
		return rt.buildSpecs(specs)
	}

	urls, err := readBatchURLs(path)
	if err != nil {
		return nil, err
	}

	requests := make([]*core.Request, 0, len(urls))
	for _, raw := range urls {
		req, err := descriptor.ForURL(raw, rt.defaults)
		if err != nil {
			return nil, err
		}
		if limitName != "" {
			strategy, ok := rt.registry.Get(limitName)
			if !ok {
				return nil, fmt.Errorf("unknown rate limit %q", limitName)
			}
			req.RateLimit = strategy
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func readBatchURLs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close() // nolint:errcheck // best-effort cleanup on read-only file

	urls := make([]string, 0)
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return nil, fmt.Errorf("invalid url on line %d: %s", line, raw)
		}
		urls = append(urls, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

func filterBatchResults(results []output.Result, failedOnly bool) []output.Result {
	if !failedOnly {
		return results
	}
	filtered := make([]output.Result, 0, len(results))
	for _, result := range results {
		if result.Error != "" {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

func logThroughput(total int, startedAt time.Time, stats engine.Stats) {
	elapsed := time.Since(startedAt)
	perSecond := 0.0
	if elapsed > 0 {
		perSecond = float64(total) / elapsed.Seconds()
	}
	observability.CLILogger.Info("Batch complete",
		zap.Int("requests", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("requests_per_second", perSecond),
		zap.Int64("retries", stats.Retries()),
		zap.Int64("cache_hits", stats.CacheHits),
		zap.Int64("failed", stats.Failed))
}
