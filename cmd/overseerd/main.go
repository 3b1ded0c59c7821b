package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/app"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/logger"
)

const (
	cliName    = "overseerd"
	cliVersion = "0.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "overseerd — autonomous multi-project coding session supervisor",
		Long:  "overseerd watches a set of managed project directories, drives AI coding sessions through a terminal multiplexer, and reports to an operator over Telegram.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default ~/.overseer/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check config, state, and binary availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(configPath)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	a, err := app.NewApp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize overseer", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Fatal("failed to start overseer", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	return nil
}

func runDoctor(configPath string) error {
	fmt.Printf("overseerd doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", func() (string, bool) { return checkConfigFile(configPath) }},
		{"state directory", checkStateDir},
		{"mux CLI binary", func() (string, bool) { return checkBinaryOnPath("tmux") }},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		mark := "OK"
		if !ok {
			mark = "FAIL"
			allOK = false
		}
		fmt.Printf("  [%s] %s: %s\n", mark, c.name, val)
	}

	fmt.Println()
	if !allOK {
		return fmt.Errorf("one or more checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}

func checkConfigFile(configPath string) (string, bool) {
	path := configPath
	if path == "" {
		path = config.HomeDir() + "/config.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return path + " (not found — run overseerd once to bootstrap it)", false
	}
	return path, true
}

func checkStateDir() (string, bool) {
	dir := config.HomeDir() + "/state"
	if _, err := os.Stat(dir); err != nil {
		return dir + " (missing)", false
	}
	return dir, true
}

func checkBinaryOnPath(name string) (string, bool) {
	for _, dir := range []string{"/usr/local/bin", "/usr/bin", "/bin"} {
		if _, err := os.Stat(dir + "/" + name); err == nil {
			return dir + "/" + name, true
		}
	}
	return name + " not found on common PATH entries", false
}
