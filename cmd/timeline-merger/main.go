// Command timeline-merger runs the Timeline Merger stage (C6): it reads
// every configured upstream JSONL input, normalizes rows onto a common
// schema, stably sorts them, and writes a single merged timeline.
package main

import (
	"flag"
	"os"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/fileconfig"
	"github.com/scottmaran/lux-collector/internal/timeline"
)

var (
	configPath = flag.String("config", envOr("COLLECTOR_TIMELINE_CONFIG", "/etc/collector/timeline.yaml"), "Path to timeline merge config")
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
	log := collectorlog.NewStderr("collector-timeline-merger")
	if *verbose {
		log.SetLevel(collectorlog.DEBUG)
	}

	var cfg timeline.Config
	if err := fileconfig.Load(*configPath, &cfg); err != nil {
		log.Fatalf(2, "load config: %v", err)
	}
	fileconfig.EnvOverride(&cfg.Output.JSONL, "COLLECTOR_TIMELINE_OUTPUT")

	m := timeline.New(cfg)
	if err := m.Run(); err != nil {
		log.Fatalf(1, "run: %v", err)
	}
}
