package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Hisho/common/version"
	"github.com/bdobrica/Hisho/internal/hisho/app"
	"github.com/bdobrica/Hisho/internal/hisho/config"
	"github.com/bdobrica/Hisho/internal/hisho/observability"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	fmt.Printf("Hisho Assistant Gatekeeper\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	observability.SetupFromEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hisho, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Hisho: %v\n", err)
		os.Exit(1)
	}
	defer hisho.Stop()

	if err := hisho.Run(); err != nil {
		slog.Error("Hisho exited with error", "err", err)
		os.Exit(1)
	}
}
