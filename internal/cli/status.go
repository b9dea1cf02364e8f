package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/gateway"
	"github.com/soyeahso/courier/internal/version"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and probe the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Courier %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			printConfigSummary(out, cfg)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			base := server
			if base == "" {
				base = serverURL(cfg.Server)
			}
			var health gateway.HealthResponse
			if err := getJSON(strings.TrimRight(base, "/")+"/health", &health); err != nil {
				fmt.Fprintf(out, "\nServer:  not reachable at %s (%v)\n", base, err)
				return nil
			}
			fmt.Fprintf(out, "\nServer:  %s at %s version=%s uptime=%s clients=%d agents=%s\n",
				health.Status, base, health.Version, health.Uptime, health.Clients, strings.Join(health.Agents, ","))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default derived from config)")
	return cmd
}

func printConfigSummary(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "Server:  port=%d bind=%s tls=%v\n", cfg.Server.Port, cfg.Server.Bind, cfg.Server.TLS.Enabled)
	fmt.Fprintf(out, "History: driver=%s limit=%d recordUser=%v\n",
		cfg.History.Driver, cfg.History.Limit, cfg.History.RecordUserMessages)
	fmt.Fprintf(out, "Turns:   timeout=%s classifierTimeout=%s llmClassifier=%v\n",
		cfg.Orchestrator.Timeout, cfg.Orchestrator.ClassifierTimeout, cfg.Orchestrator.LLMClassifier)

	names := make([]string, 0, len(cfg.Models.Providers))
	for name, p := range cfg.Models.Providers {
		names = append(names, fmt.Sprintf("%s(%s)", name, orDefault(p.API, "openai-completions")))
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintf(out, "Models:  %s default=%s\n", strings.Join(names, ", "), orDefault(cfg.Models.Default, "-"))
	} else {
		fmt.Fprintln(out, "Models:  (none configured)")
	}

	fmt.Fprintf(out, "Backends: tracking=%s rates=%s retail=%s\n",
		orDefault(cfg.Backends.Tracking.URL, "-"), orDefault(cfg.Backends.Rates.URL, "-"), orDefault(cfg.Backends.Retail.URL, "-"))
	fmt.Fprintf(out, "Knowledge: enabled=%v maxChunks=%d\n", cfg.Knowledge.Enabled, cfg.Knowledge.MaxChunks)
}
