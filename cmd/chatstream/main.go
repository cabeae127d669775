// chatstream is an interactive terminal client for a multi-agent chat
// orchestrator. It streams agent output and artifacts as they arrive and
// keeps the connection alive across drops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/chatstream/pkg/api"
	"github.com/codeready-toolchain/chatstream/pkg/config"
	"github.com/codeready-toolchain/chatstream/pkg/engine"
	"github.com/codeready-toolchain/chatstream/pkg/render"
	"github.com/codeready-toolchain/chatstream/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	noColor := flag.Bool("no-color", os.Getenv("NO_COLOR") != "", "Disable colored output")
	flag.Parse()

	if err := run(*configDir, *noColor); err != nil {
		slog.Error("chatstream exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configDir string, noColor bool) error {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}
	slog.SetDefault(cfg.Logging.NewLogger(os.Stderr))

	console := render.NewConsole(os.Stdout, noColor)
	eng, err := engine.New(cfg,
		engine.WithObserver(console),
		engine.WithStateListener(console.ConnectionChanged),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	printBanner(cfg, noColor)

	var inspector *api.Server
	if cfg.Inspector.Enabled {
		inspector = api.NewServer(eng)
		if err := inspector.Start(cfg.Inspector.Addr); err != nil {
			return err
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	replErr := runREPL(ctx, os.Stdin, os.Stdout, eng)
	stop()

	eng.Close()
	if err := <-runErr; err != nil && ctx.Err() == nil {
		slog.Error("Engine stopped with error", "error", err)
	}

	if inspector != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inspector.Shutdown(shutdownCtx); err != nil {
			slog.Error("Inspector shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return replErr
}

func printBanner(cfg *config.Config, noColor bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)
	if noColor {
		cyan.DisableColor()
		gray.DisableColor()
	}

	_, _ = cyan.Printf("%s %s\n", version.AppName, version.GitCommit)
	_, _ = gray.Printf("  orchestrator: %s\n", cfg.Connection.URL)
	if cfg.Inspector.Enabled {
		_, _ = gray.Printf("  inspector:    http://%s\n", cfg.Inspector.Addr)
	}
	_, _ = gray.Println("  type /help for commands")
	fmt.Println()
}
