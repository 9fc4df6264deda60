// Command surge drives an HTTP load-generation benchmark: given a target
// URL, concurrency, a request or duration budget, and request shape, it
// exercises the target and prints a statistical summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/surge/internal/config"
	"github.com/example/surge/internal/engine"
	"github.com/example/surge/internal/metrics"
	"github.com/example/surge/internal/progress"
)

type headerFlags []string

func (h *headerFlags) String() string     { return strings.Join(*h, ",") }
func (h *headerFlags) Set(v string) error { *h = append(*h, v); return nil }

func main() {
	os.Exit(run())
}

// run contains all the wiring that would otherwise clutter main, so the
// process's actual exit code stays in one place.
func run() int {
	var (
		configPath  = flag.String("config", "", "optional YAML config file")
		url         = flag.String("url", "", "target URL")
		connections = flag.Uint("connections", 0, "concurrent worker count (default 125)")
		timeoutArg  = flag.String("timeout", "", "per-request timeout, e.g. 30s")
		method      = flag.String("method", "", "HTTP method (default GET)")
		body        = flag.String("body", "", "inline request body")
		bodyFile    = flag.String("body-file", "", "path to a file used as the request body")
		jsonBody    = flag.String("json", "", "inline JSON request body")
		cert        = flag.String("cert", "", "client TLS certificate (PEM)")
		key         = flag.String("key", "", "client TLS key (PEM)")
		insecure    = flag.Bool("insecure", false, "accept invalid certs and hostnames")
		disableKA   = flag.Bool("disable-keep-alive", false, "disable HTTP keep-alive")
		requestsArg = flag.Uint64("requests", 0, "total request budget (mutually exclusive with -duration)")
		durationArg = flag.String("duration", "", "time budget, e.g. 30s (mutually exclusive with -requests)")
		rateArg     = flag.Uint("rate", 0, "requests/second ceiling (0 = unlimited)")
		latencies   = flag.Bool("latencies", false, "include the percentile table in output")
		logLevel    = flag.String("log-level", "", "zerolog level (default info)")
		logFormat   = flag.String("log-format", "", "console or json (default console)")
		metricsAddr = flag.String("metrics-addr", "", "optional address to serve live Prometheus metrics on")
		noProgress  = flag.Bool("no-progress", false, "disable the terminal progress bar")
	)

	var headers headerFlags
	flag.Var(&headers, "header", "extra request header \"Key: Value\" (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "surge:", err)
		return 1
	}

	if err := applyFlags(&cfg, *url, *connections, *timeoutArg, *method, *body, *bodyFile, *jsonBody,
		*cert, *key, *insecure, *disableKA, *requestsArg, *durationArg, *rateArg, *latencies,
		*logLevel, *logFormat, *metricsAddr, headers); err != nil {
		fmt.Fprintln(os.Stderr, "surge:", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "surge: invalid configuration:", err)
		return 1
	}

	logger := setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		var reg *prometheus.Registry
		m, reg = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped with error")
			}
		}()
	}

	var reporter progress.Reporter = progress.Noop{}
	if !*noProgress {
		reporter = progress.NewTerminal(os.Stderr, progressTotal(cfg), "surge")
	}

	orchestrator := engine.New(cfg, logger, m)
	result, err := orchestrator.Run(ctx, reporter)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		return 1
	}

	printSummary(os.Stdout, result, cfg)
	return 0
}

func progressTotal(cfg config.Config) uint64 {
	if cfg.Requests != nil {
		return *cfg.Requests
	}
	return uint64(cfg.Duration.Seconds())
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func applyFlags(cfg *config.Config, url string, connections uint, timeoutArg, method, body, bodyFile, jsonBody,
	cert, key string, insecure, disableKA bool, requests uint64, durationArg string, rate uint, latencies bool,
	logLevel, logFormat, metricsAddr string, headers []string) error {

	if url != "" {
		cfg.URL = url
	}
	if connections != 0 {
		cfg.Connections = uint16(connections)
	}
	if timeoutArg != "" {
		d, err := time.ParseDuration(timeoutArg)
		if err != nil {
			return fmt.Errorf("-timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if method != "" {
		cfg.Method = method
	}
	if body != "" {
		cfg.Body = body
	}
	if bodyFile != "" {
		cfg.BodyFile = bodyFile
	}
	if jsonBody != "" {
		cfg.JSONBody = jsonBody
	}
	if cert != "" {
		cfg.Cert = cert
	}
	if key != "" {
		cfg.Key = key
	}
	if insecure {
		cfg.Insecure = true
	}
	if disableKA {
		cfg.DisableKeepAlive = true
	}
	if requests != 0 && durationArg != "" {
		return fmt.Errorf("-requests and -duration are mutually exclusive")
	}
	if requests != 0 {
		cfg.Requests = &requests
		cfg.Duration = nil
	}
	if durationArg != "" {
		d, err := config.ParseDuration(durationArg)
		if err != nil {
			return fmt.Errorf("-duration: %w", err)
		}
		cfg.Duration = &d
		cfg.Requests = nil
	}
	if rate != 0 {
		r := uint16(rate)
		cfg.Rate = &r
	}
	if latencies {
		cfg.Latencies = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	cfg.Headers = append(cfg.Headers, headers...)

	return nil
}

func printSummary(w *os.File, result engine.Result, cfg config.Config) {
	s := result.Summary

	fmt.Fprintf(w, "run %s\n", result.RunID)
	fmt.Fprintf(w, "requests: %d (success %d, errors %d)\n", s.Total, s.TotalSuccess, s.Total-s.TotalSuccess)
	fmt.Fprintf(w, "status:   1xx=%d 2xx=%d 3xx=%d 4xx=%d 5xx=%d other=%d\n",
		s.Bucket1xx, s.Bucket2xx, s.Bucket3xx, s.Bucket4xx, s.Bucket5xx, s.BucketOther)

	if len(s.Errors) > 0 {
		keys := make([]string, 0, len(s.Errors))
		for k := range s.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "error breakdown:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %d\n", k, s.Errors[k])
		}
	}

	fmt.Fprintf(w, "latency:  avg=%s max=%s stdev=%s\n", s.AvgReqElapsedTime, s.MaxReqElapsedTime, s.StdevElapsedTime)
	fmt.Fprintf(w, "req/s:    max=%.2f avg=%.2f stdev=%.2f\n", s.MaxReqPerSecond, s.AvgReqPerSecond, s.StdevPerSecond)
	fmt.Fprintf(w, "throughput (ceiling): %.2f req/s\n", s.Throughput)

	if cfg.Latencies {
		fmt.Fprintln(w, "percentiles:")
		for _, p := range s.Latencies {
			fmt.Fprintf(w, "  p%.0f: %s\n", p.Percentile*100, p.Value)
		}
	}
}
