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

// mailsync backfill
//
// One-shot CLI that scans each configured account's folder once, feeding
// every message inside the backfill window through the ingestion pipeline.
// Intended for seeding a new index or replaying after an outage.
//
// Usage:
//
//	go run ./cmd/backfill/ [--account sales] [--since 168h] [--dry-run]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reachinbox/mailsync/internal/app"
	"github.com/reachinbox/mailsync/internal/backfill"
	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/models"
)

var rootCmd = &cobra.Command{
	Use:          "mailsync-backfill",
	Short:        "Ingest historical email from the configured IMAP accounts",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().String("config", "config.yaml", "Path to the YAML configuration file")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().StringSlice("account", nil, "Account names to backfill (default: all)")
	rootCmd.Flags().Duration("since", 0, "Lookback duration (default: sync.backfill_window)")
	rootCmd.Flags().Bool("dry-run", false, "Print records as JSON lines instead of indexing them")

	for _, name := range []string{"config", "log-level", "account", "since", "dry-run"} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

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

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if since := viper.GetDuration("since"); since > 0 {
		cfg.Sync.BackfillWindow = since
	}

	accounts, err := selectAccounts(cfg.Accounts, viper.GetStringSlice("account"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	emit := mailbox.EmitFunc(svc.Pipeline.Emit)
	if viper.GetBool("dry-run") {
		enc := json.NewEncoder(os.Stdout)
		emit = func(_ context.Context, rec models.EmailRecord) error {
			return enc.Encode(rec)
		}
	}

	slog.Info("starting backfill",
		"accounts", len(accounts),
		"window", cfg.Sync.BackfillWindow,
		"dry_run", viper.GetBool("dry-run"),
	)

	start := time.Now()
	var totalEmitted, totalFailed int
	var failedAccounts []string

	for _, account := range accounts {
		result, err := backfillAccount(ctx, svc, account, emit)
		if err != nil {
			slog.Error("backfill failed", "account", account.Name, "error", err)
			failedAccounts = append(failedAccounts, account.Name)
			continue
		}
		totalEmitted += result.Emitted
		totalFailed += result.Failed
	}

	slog.Info("backfill complete",
		"accounts", len(accounts),
		"emitted", totalEmitted,
		"failed", totalFailed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if len(failedAccounts) > 0 {
		return fmt.Errorf("backfill failed for %s", strings.Join(failedAccounts, ", "))
	}
	return nil
}

func backfillAccount(ctx context.Context, svc *app.Services, account config.AccountConfig, emit mailbox.EmitFunc) (backfill.Result, error) {
	session, err := svc.Dialer.Dial(ctx, account)
	if err != nil {
		return backfill.Result{}, err
	}
	defer session.Close()

	return svc.Backfill.Run(ctx, session, account, emit)
}

// selectAccounts returns the accounts named in names, or all accounts when
// names is empty.
func selectAccounts(all []config.AccountConfig, names []string) ([]config.AccountConfig, error) {
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]config.AccountConfig, len(all))
	for _, a := range all {
		byName[a.Name] = a
	}

	var out []config.AccountConfig
	for _, name := range names {
		a, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("account %q not found in config", name)
		}
		out = append(out, a)
	}
	return out, nil
}
