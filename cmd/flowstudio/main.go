// Package main is the entry point for the flowstudio API server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avnmr/ai-retail/pkg/config"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "flowstudio"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			app.logger.Error("server failed", "error", err)
			app.Close()
			os.Exit(1)
		}
	case <-stop:
		app.logger.Info("shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			app.logger.Error("error during shutdown", "error", err)
			os.Exit(1)
		}
	}
}

// loadConfig loads the configuration from path, or from the first standard
// location that has one, and applies environment overrides
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config

	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else {
		home, _ := os.UserHomeDir()
		locations := []string{
			"./config.yaml",
			"./config.json",
			"./configs/config.yaml",
			"./configs/config.json",
			filepath.Join(home, ".flowstudio", "config.yaml"),
			filepath.Join(home, ".flowstudio", "config.json"),
			"/etc/flowstudio/config.yaml",
		}
		for _, location := range locations {
			if loaded, err := config.LoadConfig(location); err == nil {
				cfg = loaded
				break
			}
		}
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	config.ApplyEnv(cfg)

	// Tokens issued with a generated secret only survive until restart
	if cfg.Auth.JWTSecret == "" {
		secret, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
	}

	return cfg, nil
}

// generateRandomKey generates a random hex key of the specified byte length
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
