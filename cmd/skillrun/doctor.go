package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"skillrun/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your skillrun installation",
		Long: `Verifies that skillrun's configuration, history database, manifest
directory, and schedule entries are correctly set up. Reports pass/fail
for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("skillrun doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'skillrun init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. History database writable
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", cfg.History.DBPath)
					passed++
				}
			} else {
				printWarn("History database", "disabled, dispatches are not recorded")
				warned++
			}

			// 4. Manifest directory
			if cfg.Skills.ManifestsDir != "" {
				if info, err := os.Stat(cfg.Skills.ManifestsDir); err != nil {
					printWarn("Manifests dir", fmt.Sprintf("not found: %s (only builtins available)", cfg.Skills.ManifestsDir))
					warned++
				} else if !info.IsDir() {
					printFail("Manifests dir", fmt.Sprintf("not a directory: %s", cfg.Skills.ManifestsDir))
					failed++
				} else {
					printPass("Manifests dir", cfg.Skills.ManifestsDir)
					passed++
				}
			}

			// 5. Schedule entries parse
			parser := cron.ParseStandard
			for i, e := range cfg.Schedule {
				label := fmt.Sprintf("Schedule[%d] %s", i, e.Skill)
				if _, err := parser(e.Spec); err != nil {
					printFail(label, fmt.Sprintf("invalid spec %q: %v", e.Spec, err))
					failed++
				} else {
					printPass(label, e.Spec)
					passed++
				}
			}

			// 6. Telegram token present when enabled
			if cfg.Telegram.Enabled {
				if cfg.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
				if len(cfg.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "empty allowFrom list, every user is allowed")
					warned++
				}
			}

			// 7. Browser skill needs a local Chrome
			if cfg.Skills.Browser.Enabled {
				if path := findChrome(); path != "" {
					printPass("Browser", path)
					passed++
				} else {
					printWarn("Browser", "enabled but no Chrome/Chromium found in PATH")
					warned++
				}
			}

			// 8. Metrics port available when enabled
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running skillrun.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nskillrun should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! skillrun is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
