package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/stream"
)

func newChatCmd() *cobra.Command {
	var (
		server string
		req    domain.ChatRequest
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to a running server and print the streamed reply",
		Long: "Send a message to a running server and print the streamed reply.\n" +
			"Without arguments, reads one message per line from stdin within a single conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			base := resolveServer(server)
			if req.ConversationID == "" {
				req.ConversationID = uuid.NewString()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[conversation %s]\n", req.ConversationID)

			if len(args) > 0 {
				req.Message = strings.Join(args, " ")
				return sendChat(ctx, http.DefaultClient, base, req, cmd.OutOrStdout(), raw)
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				turn := req
				turn.Message = line
				if err := sendChat(ctx, http.DefaultClient, base, turn, cmd.OutOrStdout(), raw); err != nil {
					return err
				}
				// Attachments and overrides apply to the first turn only.
				req.FileID, req.FileURL, req.ExplicitIntent, req.SelectedAgent = "", "", "", ""
			}
			return sc.Err()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default derived from config)")
	cmd.Flags().StringVar(&req.ConversationID, "conversation", "", "conversation id (default: new)")
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&req.ExplicitIntent, "intent", "", "force an intent (TRACKING, RATES, LOCATIONS, FAQ)")
	cmd.Flags().StringVar(&req.SelectedAgent, "agent", "", "force an agent (tracking, rates, retail, faq)")
	cmd.Flags().StringVar(&req.FileID, "file-id", "", "attachment id from the upload step")
	cmd.Flags().StringVar(&req.FileURL, "file-url", "", "attachment URL from the upload step")
	cmd.Flags().BoolVar(&raw, "raw", false, "print each stream record as JSON")

	return cmd
}

// sendChat posts one turn and copies the streamed reply to out. An error
// record is returned as an error after its message is printed.
func sendChat(ctx context.Context, client *http.Client, base string, req domain.ChatRequest, out io.Writer, raw bool) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/orchestrator/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", stream.ContentType)

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat request failed: %s", resp.Status)
	}

	var failure error
	err = stream.ReadRecords(resp.Body, func(rec stream.Record) error {
		if raw {
			line, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
		}
		switch rec.Type {
		case stream.TypeToken:
			if !raw {
				fmt.Fprint(out, rec.Content)
			}
		case stream.TypeDone:
			if !raw {
				fmt.Fprintln(out)
			}
		case stream.TypeError:
			if !raw {
				fmt.Fprintln(out, rec.Content)
			}
			failure = fmt.Errorf("turn failed: %s", rec.Metadata.ErrorKind)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failure
}
