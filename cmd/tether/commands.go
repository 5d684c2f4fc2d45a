package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/tether/internal/adapters/gitlab"
	"github.com/alekspetrov/tether/internal/adapters/redmine"
	"github.com/alekspetrov/tether/internal/banner"
	"github.com/alekspetrov/tether/internal/config"
	"github.com/alekspetrov/tether/internal/dashboard"
	"github.com/alekspetrov/tether/internal/engine"
	"github.com/alekspetrov/tether/internal/gateway"
	"github.com/alekspetrov/tether/internal/health"
	"github.com/alekspetrov/tether/internal/logging"
	"github.com/alekspetrov/tether/internal/tether"
)

// loadConfig resolves the config path (--config flag or the default
// location) and loads it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon",
		Long:  "Start the polling daemon. Runs sync passes on the configured interval until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logging.Init(cfg.Logging)
			banner.StartupBanner(version, cfg)

			t, err := tether.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			if err := t.Start(); err != nil {
				t.Stop()
				return fmt.Errorf("failed to start: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			fmt.Println("\nShutting down...")
			t.Stop()
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single sync pass and exit",
		Long: `Run one sync pass in the foreground and print the result.

With --dry-run the pass reads both remotes and reports what it would
change without writing anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			// One-shot runs never serve status. The digest store stays
			// as configured so the pass lands in the activity history.
			cfg.Server = &gateway.Config{Enabled: false}

			logging.Init(cfg.Logging)

			t, err := tether.New(cfg, tether.WithDryRun(dryRun))
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer t.Stop()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nInterrupted, cancelling pass...")
				cancel()
			}()

			report, err := t.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sync pass failed: %w", err)
			}

			printPassReport(report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report planned changes without writing to either remote")

	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		watch      bool
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and the last sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server == nil {
				cfg.Server = gateway.DefaultConfig()
			}

			baseURL := fmt.Sprintf("http://%s", cfg.Server.Addr())

			if watch {
				return dashboard.Run(version, baseURL, cfg.Server.AuthToken, interval)
			}

			client := dashboard.NewStatusClient(baseURL, cfg.Server.AuthToken)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := client.Fetch(ctx)
			if err != nil {
				fmt.Printf("Daemon unreachable at %s\n", baseURL)
				fmt.Println("Start it with 'tether start' (server.enabled must be true in the config).")
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			printStatus(baseURL, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Live terminal view, refreshed continuously")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")

	return cmd
}

func printStatus(baseURL string, status *engine.DriverStatus) {
	fmt.Println("📊 Tether Status")
	fmt.Println("───────────────────────────────")
	fmt.Printf("Daemon:       %s\n", baseURL)
	if status.Running {
		fmt.Println("State:        pass in flight")
	} else {
		fmt.Println("State:        idle")
	}
	fmt.Printf("Last run:     %s\n", formatRunTime(status.LastRunAt))
	fmt.Printf("Last success: %s\n", formatRunTime(status.LastSuccessAt))
	if status.ConsecutiveFailures > 0 {
		fmt.Printf("Consecutive failures: %d\n", status.ConsecutiveFailures)
	}

	if status.LastReport != nil {
		fmt.Println()
		printPassReport(status.LastReport)
	}
}

func formatRunTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printPassReport(report *engine.PassReport) {
	label := "Pass"
	if report.DryRun {
		label = "Dry-run pass"
	}
	duration := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	fmt.Printf("%s %s finished in %s\n", label, report.PassID, duration)

	if report.Error != "" {
		fmt.Printf("  ✗ pass failed: %s\n", report.Error)
	}
	if len(report.Projects) == 0 && report.Error == "" {
		fmt.Println("  No linked projects found.")
	}

	for _, p := range report.Projects {
		fmt.Printf("  • %s\n", p.Project)
		if p.UsersPaired > 0 {
			fmt.Printf("      %d users paired\n", p.UsersPaired)
		}
		if p.MappingsSeeded > 0 {
			fmt.Printf("      %d issue pairs seeded\n", p.MappingsSeeded)
		}
		if p.CreatedForge > 0 || p.CreatedTracker > 0 {
			fmt.Printf("      %d created on forge, %d on tracker\n", p.CreatedForge, p.CreatedTracker)
		}
		if p.PatchesApplied > 0 {
			fmt.Printf("      %d patches applied\n", p.PatchesApplied)
		}
		if p.Conflicts > 0 {
			fmt.Printf("      %d conflicts field-merged\n", p.Conflicts)
		}
		if p.Reconciled > 0 {
			fmt.Printf("      %d drifted pairs reconciled\n", p.Reconciled)
		}
		if p.MappingsDeleted > 0 {
			fmt.Printf("      %d stale mappings swept\n", p.MappingsDeleted)
		}
		if p.Failures > 0 {
			fmt.Printf("      ✗ %d operations failed\n", p.Failures)
		}
		if p.Error != "" {
			fmt.Printf("      ✗ %s\n", p.Error)
		}
	}
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				return showExistingConfigInfo(configPath)
			}

			if force {
				if _, err := os.Stat(configPath); err == nil {
					backupPath := configPath + ".bak"
					if err := os.Rename(configPath, backupPath); err != nil {
						return fmt.Errorf("failed to back up existing config: %w", err)
					}
					fmt.Printf("Existing config moved to %s\n", backupPath)
				}
			}

			cfg := config.DefaultConfig()
			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			banner.PrintWithVersion(version)
			fmt.Printf("Config created: %s\n\n", configPath)
			fmt.Println("Next steps:")
			fmt.Println("  1. Set redmine.base_url and redmine.api_key")
			fmt.Println("  2. Set gitlab.base_url and gitlab.token")
			fmt.Println("  3. Point the \"Gitlab Repo\" custom field of a Redmine project at a GitLab repo URL")
			fmt.Println("  4. Run 'tether doctor' to verify, then 'tether start'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing config (a .bak copy is kept)")

	return cmd
}

func showExistingConfigInfo(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config exists at %s but failed to load: %w", configPath, err)
	}

	fmt.Printf("⚠️  Config already exists: %s\n\n", configPath)
	fmt.Println("   Current settings:")
	fmt.Printf("   • Tracker:    %s\n", orUnset(cfg.Redmine.BaseURL))
	fmt.Printf("   • Forge:      %s\n", orUnset(cfg.GitLab.BaseURL))
	fmt.Printf("   • Categories: %s\n", strings.Join(cfg.CategoryKeys, ", "))
	if cfg.Polling != nil && cfg.Polling.Enabled {
		fmt.Printf("   • Polling:    every %s\n", cfg.Polling.Interval())
	} else {
		fmt.Println("   • Polling:    disabled")
	}
	if cfg.Server != nil && cfg.Server.Enabled {
		fmt.Printf("   • Server:     http://%s\n", cfg.Server.Addr())
	} else {
		fmt.Println("   • Server:     disabled")
	}
	if cfg.Digest != nil && cfg.Digest.Enabled {
		fmt.Printf("   • Digest:     %q (%s)\n", cfg.Digest.Schedule, cfg.Digest.Timezone)
	} else {
		fmt.Println("   • Digest:     disabled")
	}

	fmt.Println("\n   Options:")
	fmt.Printf("   • Edit:  %s\n", configPath)
	fmt.Println("   • Reset: tether init --force")
	fmt.Println("   • Start: tether start")
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, storage, and remote API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				// No config yet is itself a finding, not a crash.
				cfg = config.DefaultConfig()
			}

			var tracker health.TrackerProbe
			if cfg.Redmine != nil && cfg.Redmine.BaseURL != "" {
				tracker = redmine.NewClient(*cfg.Redmine)
			}
			var forge health.ForgeProbe
			if cfg.GitLab != nil && cfg.GitLab.BaseURL != "" {
				forge = gitlab.NewClient(*cfg.GitLab, cfg.CategoryKeys)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			report := health.NewDoctor(cfg, tracker, forge).Run(ctx)
			banner.PrintDoctorReport(version, report)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tether %s\n", version)
			if buildTime != "unknown" {
				fmt.Printf("Built at %s\n", buildTime)
			}
		},
	}
}
