// Command ebpf-filter runs the eBPF Filter stage (C4): it reads a
// JSON-lines eBPF event stream, gates events by ownership (primed from a
// bootstrap audit sweep), applies exclusions, and writes attributed rows
// to a JSONL output.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/ebpffilter"
	"github.com/scottmaran/lux-collector/internal/fileconfig"
)

var (
	configPath   = flag.String("config", envOr("COLLECTOR_FILTER_CONFIG", "/etc/collector/filtering.yaml"), "Path to filtering config")
	follow       = flag.Bool("follow", false, "Tail the eBPF log")
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
	log := collectorlog.NewStderr("collector-ebpf-filter")
	if *verbose {
		log.SetLevel(collectorlog.DEBUG)
	}

	var cfg ebpffilter.Config
	if err := fileconfig.Load(*configPath, &cfg); err != nil {
		log.Fatalf(2, "load config: %v", err)
	}
	fileconfig.EnvOverride(&cfg.Input.AuditLog, "COLLECTOR_AUDIT_LOG")
	fileconfig.EnvOverride(&cfg.Input.EBPFLog, "COLLECTOR_EBPF_LOG")
	fileconfig.EnvOverride(&cfg.Output.JSONL, "COLLECTOR_EBPF_FILTER_OUTPUT")
	fileconfig.EnvOverride(&cfg.SessionsDir, "COLLECTOR_SESSIONS_DIR")
	fileconfig.EnvOverride(&cfg.JobsDir, "COLLECTOR_JOBS_DIR")

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

	f := ebpffilter.New(cfg, *follow, interval, log)
	if err := f.Run(ctx); err != nil {
		log.Fatalf(1, "run: %v", err)
	}
}
