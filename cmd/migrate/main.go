// migrate applies the embedded schema migrations; go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"experimentservice/internal/config"
	"experimentservice/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 1, "Number of migrations to roll back with -direction down (0 = all)")
	flag.Parse()

	cfgPath := os.Getenv("EXP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := strings.EqualFold(os.Getenv("EXP_ENV_ONLY"), "true") || os.Getenv("EXP_ENV_ONLY") == "1"

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DB.DSN == "" {
		fmt.Fprintln(os.Stderr, "db.dsn is not set; set EXP_DB_DSN or edit", cfgPath)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DB.DSN, *direction, *steps); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	v, dirty, err := db.MigrationVersion(cfg.DB.DSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "version:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
}
