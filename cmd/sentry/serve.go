package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"datasentry-hq/sentry/pkg/audit"
	"datasentry-hq/sentry/pkg/cleaning"
	"datasentry-hq/sentry/pkg/cli"
	"datasentry-hq/sentry/pkg/server"
	"datasentry-hq/sentry/pkg/telemetry/health"
)

var serveFlags struct {
	listen string
	stdin  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operations endpoint and background maintenance",
	Long: `Run sentry as a long-lived process. It serves /healthz, /readyz,
/version and /metrics, hot-reloads the YAML policy file when policy.watch is
set, prunes audit records on audit.prune_schedule and sweeps the capability
cache on capability_cache.sweep_schedule.

With --stdin, each line of standard input is screened as a JSON request and
answered with one JSON line on standard output. A request is a check request
with an optional "operation" of "check" (default) or "sanitize".

Examples:
  sentry serve --listen :9090
  producer | sentry serve --stdin | consumer`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "", "override server.listen_address")
	serveCmd.Flags().BoolVar(&serveFlags.stdin, "stdin", false, "screen JSON lines from stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if serveFlags.listen != "" {
		cfg.Server.ListenAddress = serveFlags.listen
	}

	ctx, stop := cli.NotifyContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.auditStorage != nil {
		pruner := audit.NewPruner(a.auditStorage, cfg.Audit.RetentionDays, cfg.Audit.PruneSchedule, a.logger)
		if err := pruner.Start(ctx); err != nil {
			return cli.NewConfigError("audit.prune_schedule", err.Error())
		}
		defer pruner.Stop()
	}
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			return cli.NewConfigError("capability_cache.sweep_schedule", err.Error())
		}
		defer a.sweeper.Stop()
	}

	mux := http.NewServeMux()
	health.Mount(mux, a.checker, health.NewVersionInfo(Version, GitCommit, BuildDate), metricsHandler(a))
	srv := server.New(cfg.Server, mux, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if a.fileStore != nil && cfg.Policy.Watch {
		g.Go(func() error {
			if err := a.fileStore.Watch(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("policy watch: %w", err)
			}
			return nil
		})
	}
	if serveFlags.stdin {
		g.Go(func() error {
			err := serveLines(gctx, a.service, cmd.InOrStdin(), cmd.OutOrStdout())
			// End of input ends the process.
			stop()
			return err
		})
	}

	a.logger.Info("sentry serving",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"policy_store", cfg.Policy.Store,
		"l3_provider", cfg.Detection.L3.Provider,
		"stdin", serveFlags.stdin,
	)
	return g.Wait()
}

func metricsHandler(a *app) http.Handler {
	if !a.cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	return a.collector.Handler()
}

// lineRequest is one --stdin request.
type lineRequest struct {
	Operation string `json:"operation,omitempty"`
	cleaning.CheckRequest
}

// lineResponse is one --stdin answer. Error is set instead of the result
// when the request could not be screened.
type lineResponse struct {
	*cleaning.CheckResponse
	Error string `json:"error,omitempty"`
}

// serveLines screens one JSON request per line until EOF or ctx ends.
func serveLines(ctx context.Context, svc *cleaning.Service, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var req lineRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := enc.Encode(lineResponse{Error: "invalid request: " + err.Error()}); err != nil {
				return err
			}
			continue
		}

		var resp *cleaning.CheckResponse
		var err error
		if strings.EqualFold(req.Operation, audit.OperationSanitize) {
			resp, err = svc.Sanitize(ctx, req.CheckRequest)
		} else {
			resp, err = svc.Check(ctx, req.CheckRequest)
		}
		out := lineResponse{CheckResponse: resp}
		if err != nil {
			out.Error = err.Error()
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return sc.Err()
}
