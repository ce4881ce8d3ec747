// Command dumpconfig loads the effective gateway configuration and
// prints it for troubleshooting. Secrets are elided.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/llm_gateway/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg.Upstream.APIKey = elide(cfg.Upstream.APIKey)
	cfg.AWS.StaticSalt = elide(cfg.AWS.StaticSalt)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func elide(s string) string {
	if s == "" {
		return ""
	}
	return "<set>"
}
