package banner

import (
	"fmt"

	"github.com/alekspetrov/tether/internal/config"
	"github.com/alekspetrov/tether/internal/health"
)

// Logo is the ASCII art logo for Tether
const Logo = `
   ████████╗███████╗████████╗██╗  ██╗███████╗██████╗
   ╚══██╔══╝██╔════╝╚══██╔══╝██║  ██║██╔════╝██╔══██╗
      ██║   █████╗     ██║   ███████║█████╗  ██████╔╝
      ██║   ██╔══╝     ██║   ██╔══██║██╔══╝  ██╔══██╗
      ██║   ███████╗   ██║   ██║  ██║███████╗██║  ██║
      ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`

// Tagline sits under the logo in every banner.
const Tagline = "Two trackers. One backlog."

func printHeader() {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
}

// PrintWithVersion writes the logo block and the running version.
func PrintWithVersion(version string) {
	printHeader()
	fmt.Printf("   v%s\n\n", version)
}

// StartupBanner summarizes the daemon's endpoints at startup.
func StartupBanner(version string, cfg *config.Config) {
	printHeader()
	fmt.Println()
	fmt.Printf("   Version:  v%s\n", version)
	if cfg.Redmine != nil {
		fmt.Printf("   Tracker:  %s\n", cfg.Redmine.BaseURL)
	}
	if cfg.GitLab != nil {
		fmt.Printf("   Forge:    %s\n", cfg.GitLab.BaseURL)
	}
	if cfg.Polling != nil {
		fmt.Printf("   Interval: %s\n", cfg.Polling.Interval())
	}
	if cfg.Server != nil && cfg.Server.Enabled {
		fmt.Printf("   Server:   http://%s\n", cfg.Server.Addr())
	}
	fmt.Println()
}

// PrintDoctorReport prints the doctor's check results with fix hints
func PrintDoctorReport(version string, report *health.Report) {
	fmt.Println()
	fmt.Printf("TETHER v%s\n", version)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	for _, check := range report.Checks {
		fmt.Printf("%s %-12s %s\n", check.Status.Symbol(), check.Name, check.Message)
		if check.Fix != "" && check.Status != health.StatusOK {
			fmt.Printf("  ↳ fix: %s\n", check.Fix)
		}
	}

	fmt.Println()
	if report.Healthy() {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed. Fix the issues above and run doctor again.")
	}
	fmt.Println()
}
