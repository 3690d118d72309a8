// Command net-summarizer runs the Net Summarizer stage (C5): it reads
// filtered eBPF network rows, bursts connect/send activity per
// (session, job, pid, dst_ip, dst_port), enriches with DNS correlation,
// and writes net_summary rows to a JSONL output.
package main

import (
	"flag"
	"os"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/fileconfig"
	"github.com/scottmaran/lux-collector/internal/netsummary"
)

var (
	configPath = flag.String("config", envOr("COLLECTOR_SUMMARY_CONFIG", "/etc/collector/summary.yaml"), "Path to summary config")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()
	log := collectorlog.NewStderr("collector-net-summarizer")
	if *verbose {
		log.SetLevel(collectorlog.DEBUG)
	}

	var cfg netsummary.Config
	if err := fileconfig.Load(*configPath, &cfg); err != nil {
		log.Fatalf(2, "load config: %v", err)
	}
	fileconfig.EnvOverride(&cfg.Input.JSONL, "COLLECTOR_SUMMARY_INPUT")
	fileconfig.EnvOverride(&cfg.Output.JSONL, "COLLECTOR_SUMMARY_OUTPUT")

	s := netsummary.New(cfg)
	if err := s.Run(); err != nil {
		log.Fatalf(1, "run: %v", err)
	}
}
