// Command audit-filter runs the Audit Filter stage (C3): it parses a raw
// kernel audit log, groups records by sequence number, and writes
// ownership-attributed exec/fs rows to a JSONL output.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scottmaran/lux-collector/internal/auditfilter"
	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/fileconfig"
)

var (
	configPath   = flag.String("config", envOr("COLLECTOR_FILTER_CONFIG", "/etc/collector/filtering.yaml"), "Path to filtering config")
	follow       = flag.Bool("follow", false, "Tail the audit log")
	pollInterval = flag.Float64("poll-interval", 0.5, "Polling interval for follow mode (seconds)")
	verbose      = flag.Bool("verbose", false, "Enable debug logging")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()
	log := collectorlog.NewStderr("collector-audit-filter")
	if *verbose {
		log.SetLevel(collectorlog.DEBUG)
	}

	var cfg auditfilter.Config
	if err := fileconfig.Load(*configPath, &cfg); err != nil {
		log.Fatalf(2, "load config: %v", err)
	}
	fileconfig.EnvOverride(&cfg.Input.AuditLog, "COLLECTOR_AUDIT_LOG")
	fileconfig.EnvOverride(&cfg.Output.JSONL, "COLLECTOR_FILTER_OUTPUT")
	fileconfig.EnvOverride(&cfg.SessionsDir, "COLLECTOR_SESSIONS_DIR")
	fileconfig.EnvOverride(&cfg.JobsDir, "COLLECTOR_JOBS_DIR")

	if cfg.Grouping.Strategy != "" && cfg.Grouping.Strategy != "audit_seq" {
		log.Fatalf(2, "unsupported grouping strategy %q", cfg.Grouping.Strategy)
	}

	interval := time.Duration(*pollInterval * float64(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *follow {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sig
			cancel()
		}()
	}

	f := auditfilter.New(cfg, *follow, interval, log)
	if err := f.Run(ctx); err != nil {
		log.Fatalf(1, "run: %v", err)
	}
}
