// Command forbidden-detector runs the Forbidden-Action Detector stage
// (C7): it compiles a policy file into rules, evaluates every configured
// timeline input against them, and writes matched alert rows to a JSONL
// output.
package main

import (
	"flag"
	"os"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/fileconfig"
	"github.com/scottmaran/lux-collector/internal/forbidden"
)

var (
	configPath = flag.String("config", envOr("COLLECTOR_DETECTOR_CONFIG", "/etc/collector/detector.yaml"), "Path to detector config")
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
	log := collectorlog.NewStderr("collector-forbidden-detector")
	if *verbose {
		log.SetLevel(collectorlog.DEBUG)
	}

	var cfg forbidden.Config
	if err := fileconfig.Load(*configPath, &cfg); err != nil {
		log.Fatalf(2, "load config: %v", err)
	}
	fileconfig.EnvOverride(&cfg.Policy, "COLLECTOR_DETECTOR_POLICY")
	fileconfig.EnvOverride(&cfg.Output.JSONL, "COLLECTOR_DETECTOR_OUTPUT")

	d, err := forbidden.New(cfg)
	if err != nil {
		log.Fatalf(2, "load policy: %v", err)
	}
	if err := d.Run(); err != nil {
		log.Fatalf(1, "run: %v", err)
	}
}
