package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

var bannerArt = []string{
	` 88888888888     d8888 888      888      Y88b   d88P`,
	`     888        d88888 888      888       Y88b d88P`,
	`     888       d88P888 888      888        Y88o88P`,
	`     888      d88P 888 888      888         Y888P`,
	`     888     d88P  888 888      888          888`,
	`     888    d88P   888 888      888          888`,
	`     888   d8888888888 888      888          888`,
	`     888  d88P     888 88888888 88888888     888`,
}

type bannerField struct {
	key, value string
}

// storageLabel names the backend, with its address when it has one.
func storageLabel(s StorageConfig) string {
	if s.Backend == "surrealdb" && s.Address != "" {
		return fmt.Sprintf("surrealdb %s (%s/%s)", s.Address, s.Namespace, s.Database)
	}
	return s.Backend
}

func bannerFields(config *Config) []bannerField {
	splitwise := "disabled"
	if config.Clients.Splitwise.Enabled() {
		splitwise = "every " + config.Jobs.GetSplitwiseInterval().String()
		if config.Clients.Splitwise.AccountID != "" {
			splitwise += ", account " + config.Clients.Splitwise.AccountID
		}
	}
	return []bannerField{
		{"Version", GetVersion()},
		{"Build", GetBuild()},
		{"Commit", GetGitCommit()},
		{"Environment", config.Environment},
		{"Service URL", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)},
		{"Storage", storageLabel(config.Storage)},
		{"Processor", "every " + config.Jobs.GetProcessorInterval().String()},
		{"Splitwise", splitwise},
	}
}

func rule(width int) string {
	return banner.ColorCyan + strings.Repeat("═", width) + banner.ColorReset
}

func writeBanner(w io.Writer, config *Config) {
	text := banner.ColorBold + banner.ColorWhite

	fmt.Fprintf(w, "\n%s\n\n", rule(60))
	for _, line := range bannerArt {
		fmt.Fprintf(w, "%s%s%s\n", text, line, banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s  Personal Finance Ledger%s\n\n%s\n\n", text, banner.ColorReset, rule(60))
	for _, f := range bannerFields(config) {
		fmt.Fprintf(w, "%s  %-16s %s%s\n", text, f.key, f.value, banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s\n\n", rule(60))
}

// PrintBanner writes the startup banner to stderr and logs the same fields.
func PrintBanner(config *Config, logger *Logger) {
	writeBanner(os.Stderr, config)

	event := logger.Info()
	for _, f := range bannerFields(config) {
		event = event.Str(strings.ReplaceAll(strings.ToLower(f.key), " ", "_"), f.value)
	}
	event.Msg("Application started")
}

// PrintShutdownBanner writes the shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	fmt.Fprintf(os.Stderr, "\n%s\n%s  TALLY: SHUTTING DOWN%s\n%s\n\n",
		rule(42), banner.ColorBold+banner.ColorWhite, banner.ColorReset, rule(42))
	logger.Info().Msg("Application shutting down")
}
