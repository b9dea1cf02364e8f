package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/gateway"
)

func newHistoryCmd() *cobra.Command {
	var (
		server string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the recent messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := fmt.Sprintf("%s/orchestrator/conversations/%s/messages", resolveServer(server), url.PathEscape(args[0]))
			if limit > 0 {
				u += fmt.Sprintf("?limit=%d", limit)
			}

			var resp gateway.MessagesResponse
			if err := getJSON(u, &resp); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printMessages(cmd.OutOrStdout(), resp.Messages)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default derived from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")

	return cmd
}

func printMessages(w io.Writer, msgs []domain.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		who := string(m.Role)
		if m.Agent != "" {
			who += "/" + string(m.Agent)
		}
		flag := ""
		if m.Truncated {
			flag = " [truncated]"
		}
		fmt.Fprintf(w, "%s  %-16s%s\n", m.Timestamp.Local().Format(time.DateTime), who, flag)
		for _, line := range strings.Split(strings.TrimRight(m.Content, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
