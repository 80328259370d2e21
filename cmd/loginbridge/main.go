package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/codermrrob/loginbridge/internal"
	"github.com/codermrrob/loginbridge/internal/config"
	"github.com/codermrrob/loginbridge/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"bridge": map[string]any{
			"baseUrl": "https://login.yourcompany.com",
			"addr":    ":8080",
			"name":    "loginbridge",
			"google": map[string]any{
				"clientId": map[string]string{"$env": "GOOGLE_CLIENT_ID"},
			},
			"backend": map[string]any{
				"baseUrl":      "https://api.yourcompany.com",
				"sharedSecret": map[string]string{"$env": "BACKEND_SHARED_SECRET"},
			},
			"markerSecret": map[string]string{"$env": "MARKER_SECRET"},
			"ejectDelay":   "2.5s",
			"flowTtl":      "10m",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if *validate {
		if _, err := config.Load(*conf); err != nil {
			fmt.Fprintf(os.Stderr, "Validating: %s\nResult: FAIL\n  - %v\n", *conf, err)
			os.Exit(1)
		}
		fmt.Printf("Validating: %s\nResult: PASS\n", *conf)
		return
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting loginbridge", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	bridge, err := internal.NewBridge(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to create login bridge: %v", err)
		os.Exit(1)
	}

	if err := bridge.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
