package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/store"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the FAQ knowledge base",
	}

	cmd.AddCommand(newKnowledgeImportCmd())
	cmd.AddCommand(newKnowledgeSearchCmd())
	return cmd
}

// openKnowledge opens the database the server uses for FAQ retrieval.
func openKnowledge() (*store.DB, *store.KnowledgeStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Defaults()
	}
	path := cfg.History.Path
	if path == "" {
		path = paths.Database
	}
	db, err := store.Open(path, log)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewKnowledgeStore(db), nil
}

func newKnowledgeImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.jsonl|->",
		Short: "Import knowledge chunks from a JSONL file",
		Long: "Import knowledge chunks from a JSONL file. Each line holds an object with\n" +
			"title, chunk_text, and optional url and category fields.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			db, ks, err := openKnowledge()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := ks.ImportJSONL(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("imported %d chunk(s) before failing: %w", n, err)
			}
			total, err := ks.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chunk(s), %d total\n", n, total)
			return nil
		},
	}
}

func newKnowledgeSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ks, err := openKnowledge()
			if err != nil {
				return err
			}
			defer db.Close()

			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}
			chunks, err := ks.Search(cmd.Context(), query, limit)
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no matches)")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tCATEGORY\tTITLE")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%.2f\t%s\t%s\n", c.Rank, c.Category, c.Title)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of results")
	return cmd
}
