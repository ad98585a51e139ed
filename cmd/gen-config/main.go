// Command gen-config writes a fully populated starter configuration so
// operators can edit from working defaults instead of a blank page.
package main

import (
	"flag"
	"log"

	"github.com/fluxline/servoloop/internal/config"
)

var out = flag.String("out", config.DefaultConfigPath, "Where to write the config file")

func main() {
	flag.Parse()

	cfg := config.Default()
	if err := cfg.Save(*out); err != nil {
		log.Fatalf("failed to write config: %v", err)
	}
	log.Printf("wrote default config to %s", *out)
}
