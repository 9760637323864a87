package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/descriptor"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/observability"
	"github.com/benetwork/benetwork/internal/output"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url|descriptor.yaml>",
	Short: "Run one request, or every request in a descriptor file",
	Long: `Run a request through the configured cache, rate limits and retry policy.

The argument is either a URL (fetched with GET) or a YAML descriptor file
holding one request or a "requests:" list.

Examples:
  benetwork fetch https://api.github.com/repos/golang/go --rate-limit github
  benetwork fetch requests.yaml --output-format json
  benetwork fetch https://example.com/big.tar.gz --download big.tar.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	addOutputFlags(fetchCmd)
	fetchCmd.Flags().Bool("body", false, "Include response bodies in the output")
	fetchCmd.Flags().Int("body-limit", 2048, "Truncate bodies to this many bytes (0 keeps them whole)")
	fetchCmd.Flags().Bool("raw", false, "Write the raw response body instead of a result table")
	fetchCmd.Flags().StringArrayP("header", "H", nil, "Request header as 'Name: value' (URL mode)")
	fetchCmd.Flags().String("rate-limit", "", "Named rate limit from config (URL mode)")
	fetchCmd.Flags().Duration("cache-ttl", -1, "Cache successful responses for this long (URL mode; default from config)")
	fetchCmd.Flags().Bool("no-cache", false, "Bypass the response cache")
	fetchCmd.Flags().String("download", "", "Stream the body to this file (single request)")
}

func runFetch(cmd *cobra.Command, args []string) (err error) {
	defer func() { metrics.RecordCommand("fetch", err == nil) }()

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	requests, err := fetchRequests(cmd, rt, args[0])
	if err != nil {
		return err
	}

	if download, _ := cmd.Flags().GetString("download"); strings.TrimSpace(download) != "" {
		if len(requests) != 1 {
			return errors.New("--download needs exactly one request")
		}
		return runDownload(ctx, rt, requests[0], download)
	}

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		if len(requests) != 1 {
			return errors.New("--raw needs exactly one request")
		}
		resp, err := rt.orchestrator.Do(ctx, requests[0])
		if err != nil {
			return err
		}
		sink, err := openTarget(cmd, output.FormatTable, requestName(requests[0]))
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		_, err = sink.writer.Write(resp.Body)
		return err
	}

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	includeBody, _ := cmd.Flags().GetBool("body")
	bodyLimit, _ := cmd.Flags().GetInt("body-limit")

	results := make([]output.Result, 0, len(requests))
	var firstErr error
	for _, req := range requests {
		resp, doErr := rt.orchestrator.Do(ctx, req)
		if doErr != nil && firstErr == nil {
			firstErr = doErr
		}
		result := output.NewResult(req, resp, doErr)
		if includeBody && resp != nil {
			result = result.WithBody(resp.Body, bodyLimit)
		}
		results = append(results, result)
	}

	if err := renderResults(cmd, format, "fetch", results); err != nil {
		return err
	}
	return firstErr
}

// fetchRequests resolves the argument as a descriptor file or a URL.
func fetchRequests(cmd *cobra.Command, rt *appRuntime, target string) ([]*core.Request, error) {
	noCache, _ := cmd.Flags().GetBool("no-cache")

	var requests []*core.Request
	if isDescriptorPath(target) {
		specs, err := descriptor.Load(target)
		if err != nil {
			return nil, err
		}
		requests, err = rt.buildSpecs(specs)
		if err != nil {
			return nil, err
		}
	} else {
		req, err := urlRequest(cmd, rt, target)
		if err != nil {
			return nil, err
		}
		requests = []*core.Request{req}
	}

	if noCache {
		for _, req := range requests {
			req.CacheTTL = 0
		}
	}
	return requests, nil
}

func urlRequest(cmd *cobra.Command, rt *appRuntime, target string) (*core.Request, error) {
	req, err := descriptor.ForURL(target, rt.defaults)
	if err != nil {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: err}
	}

	headers, _ := cmd.Flags().GetStringArray("header")
	parsed, err := parseHeaders(headers)
	if err != nil {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: err}
	}
	if len(parsed) > 0 {
		req.Headers = parsed
	}

	if ttl, _ := cmd.Flags().GetDuration("cache-ttl"); ttl >= 0 {
		req.CacheTTL = ttl
	}

	if name, _ := cmd.Flags().GetString("rate-limit"); strings.TrimSpace(name) != "" {
		strategy, ok := rt.registry.Get(strings.TrimSpace(name))
		if !ok {
			return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: fmt.Errorf("unknown rate limit %q", name)}
		}
		req.RateLimit = strategy
	}
	return req, nil
}

// isDescriptorPath reports whether target names an existing file rather than a URL.
func isDescriptorPath(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return false
	}
	info, err := os.Stat(target)
	return err == nil && !info.IsDir()
}

func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, value := range values {
		name, val, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", value)
		}
		headers[name] = strings.TrimSpace(val)
	}
	return headers, nil
}

func requestName(req *core.Request) string {
	if req.Name != "" {
		return req.Name
	}
	if target, err := req.URL(); err == nil {
		return target.Host + target.Path
	}
	return "response"
}

func renderResults(cmd *cobra.Command, format output.Format, name string, results []output.Result) error {
	rendered, err := output.NewFormatter(format).FormatResults(results)
	if err != nil {
		return err
	}
	sink, err := openTarget(cmd, format, name)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	if strings.TrimSpace(rendered) == "" {
		return nil
	}
	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

// runDownload streams one request to path.
func runDownload(ctx context.Context, rt *appRuntime, req *core.Request, path string) error {
	started := time.Now()
	download, err := rt.orchestrator.Stream(ctx, req)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		go drainChunks(download.Chunks)
		return err
	}
	defer file.Close() // nolint:errcheck // closed explicitly below on success

	var written int64
	for chunk := range download.Chunks {
		if chunk.Err != nil {
			return &core.RequestError{Kind: core.KindTransport, Err: chunk.Err}
		}
		n, err := file.Write(chunk.Data)
		written += int64(n)
		if err != nil {
			go drainChunks(download.Chunks)
			return err
		}
		observability.CLILogger.Debug("Download progress",
			zap.Int64("written", written),
			zap.Int64("total", download.Total))
	}
	if download.Total >= 0 && written != download.Total {
		return &core.RequestError{
			Kind: core.KindNoDataReceived,
			Err:  fmt.Errorf("received %d of %d bytes", written, download.Total),
		}
	}
	if err := file.Close(); err != nil {
		return err
	}

	observability.CLILogger.Info("Download complete",
		zap.String("file", path),
		zap.Int64("bytes", written),
		zap.Int("status", download.Response.StatusCode),
		zap.Duration("duration", time.Since(started)))
	return nil
}

func drainChunks[T any](ch <-chan T) {
	for range ch {
	}
}
