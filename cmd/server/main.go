// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mailsync server
//
// Long-running service. It:
//  1. Loads account and backend configuration from config.yaml
//  2. Connects to Elasticsearch, and to Redis and PostgreSQL when configured
//  3. Supervises one IMAP session per account: backfill, then IDLE watch
//  4. Classifies, indexes and notifies every received email
//  5. Serves the query API
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reachinbox/mailsync/internal/api"
	"github.com/reachinbox/mailsync/internal/app"
	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/connmgr"
)

var rootCmd = &cobra.Command{
	Use:          "mailsync",
	Short:        "IMAP ingestion, classification and search service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().Int("port", 0, "API port (overrides server.port)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))

	viper.SetEnvPrefix("MAILSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("log-level", "MAILSYNC_LOG_LEVEL", "LOG_LEVEL")
	viper.BindEnv("config", "MAILSYNC_CONFIG", "CONFIG_PATH")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(app.NewLogger(viper.GetString("log-level")))
	slog.Info("starting mailsync")

	// --- Load Configuration ---
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if port := viper.GetInt("port"); port > 0 {
		cfg.Port = port
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"backfill_window", cfg.Sync.BackfillWindow,
		"dedupe", cfg.Sync.Dedupe,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	// --- Query API ---
	apiCfg := api.ServerConfig{Searcher: svc.Search}
	if svc.States != nil {
		apiCfg.States = svc.States
	}
	ready, err := api.NewServer(apiCfg).Serve(ctx, cfg.Port)
	if err != nil {
		return err
	}
	<-ready

	// --- Account supervisors ---
	mgrCfg := connmgr.ManagerConfig{
		Accounts:   cfg.Accounts,
		Dialer:     svc.Dialer,
		Backfill:   svc.Backfill,
		Normalizer: svc.Normalizer,
		Emit:       svc.Pipeline.Emit,
		Policy:     connmgr.NewRetryPolicy(cfg.Sync.Retry),
	}
	if svc.States != nil {
		mgrCfg.States = svc.States
	}
	mgr := connmgr.NewManager(mgrCfg)
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	// --- Graceful Shutdown ---
	<-ctx.Done()
	slog.Info("received shutdown signal")
	mgr.Stop()

	slog.Info("mailsync stopped")
	return nil
}
