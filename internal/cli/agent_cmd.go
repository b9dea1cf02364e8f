package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/domain"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agents",
	}

	cmd.AddCommand(newAgentListCmd())
	return cmd
}

// agentRoutes pairs each agent with the intent routed to it.
var agentRoutes = []struct {
	tag    domain.AgentTag
	intent domain.Intent
}{
	{domain.AgentTracking, domain.IntentTracking},
	{domain.AgentRates, domain.IntentRates},
	{domain.AgentRetail, domain.IntentLocations},
	{domain.AgentFAQ, domain.IntentFAQ},
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents with their routed intent and generation settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				cfg = config.Defaults()
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tINTENT\tMODEL\tMAX TOKENS\tTEMPERATURE")
			for _, r := range agentRoutes {
				e := cfg.Agents.Resolve(string(r.tag))
				model := e.Model
				if model == "" {
					model = orDefault(cfg.Models.Default, "(none)")
				}
				temp := "-"
				if e.Temperature != nil {
					temp = fmt.Sprintf("%.2f", *e.Temperature)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.tag, r.intent, model, e.MaxTokens, temp)
			}
			return tw.Flush()
		},
	}
}
