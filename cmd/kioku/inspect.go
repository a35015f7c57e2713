package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/kioku/internal/kioku/app"
	"github.com/bdobrica/kioku/internal/kioku/commands"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

var (
	searchKind         string
	searchConversation int64
	searchThread       int64
	searchThreshold    float64
	searchLimit        int

	backlogConversation int64
	backlogThread       int64

	memoriesConversation int64
	memoriesThread       int64
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		v, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.DatabasePath, v)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Semantic search over messages, summaries or memories",
	Long: `Embed the query and list rows above the similarity threshold, best first.

Examples:
  kioku search "green tea" --conversation 1
  kioku search "deadline" --kind summary --conversation 1 --thread 3
  kioku search "kyoto" --kind message --threshold 0.5 --limit 20

Without --conversation every conversation is searched.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Count messages not yet covered by a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Stop()

		g := memory.Group{ConversationID: backlogConversation}
		if cmd.Flags().Changed("thread") {
			g.Thread = memory.InThread(backlogThread)
		}
		n, err := a.Trigger().UnsummarizedCount(cmd.Context(), g)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed every row that has no embedding yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Stop()

		stats, err := a.Backfill(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "embedded %d, skipped %d, failed %d\n", stats.Embedded, stats.Skipped, stats.Failed)
		return nil
	},
}

var summariseCmd = &cobra.Command{
	Use:     "summarise",
	Aliases: []string{"summarize"},
	Short:   "Run one summary pass over every group at or over the threshold",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Stop()

		n, err := a.SummariseOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d summaries\n", n)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchKind, "kind", "k", string(memory.KindMemory), "message, summary or memory")
	searchCmd.Flags().Int64Var(&searchConversation, "conversation", 0, "restrict to one conversation id")
	searchCmd.Flags().Int64Var(&searchThread, "thread", 0, "restrict to one thread id")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", memory.DefaultThreshold, "minimum cosine similarity")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "max results (0 uses the per-kind default)")

	backlogCmd.Flags().Int64Var(&backlogConversation, "conversation", 0, "conversation id (required)")
	backlogCmd.Flags().Int64Var(&backlogThread, "thread", 0, "thread id; omit for the unthreaded group")
	_ = backlogCmd.MarkFlagRequired("conversation")

	memoriesCmd.Flags().Int64Var(&memoriesConversation, "conversation", 0, "conversation id (required)")
	memoriesCmd.Flags().Int64Var(&memoriesThread, "thread", 0, "list summaries of this thread instead of the unthreaded group")
	_ = memoriesCmd.MarkFlagRequired("conversation")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	req := memory.NewSearch(memory.Kind(searchKind), nil)
	if cmd.Flags().Changed("conversation") {
		req.Filter = memory.ForConversation(searchConversation)
	}
	if cmd.Flags().Changed("thread") {
		req.Filter = req.Filter.WithThread(searchThread)
	}
	req.Threshold = searchThreshold
	if searchLimit > 0 {
		req.Limit = searchLimit
	}

	matches, err := a.Search(ctx, args[0], req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), commands.FormatMatches(matches))
	return nil
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List the confirmed memories and summaries of a conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Stop()

		g := memory.Group{ConversationID: memoriesConversation}
		if cmd.Flags().Changed("thread") {
			g.Thread = memory.InThread(memoriesThread)
		}
		ov, err := a.Overview(cmd.Context(), g)
		if err != nil {
			return err
		}
		printOverview(cmd.OutOrStdout(), ov)
		return nil
	},
}

func printOverview(w io.Writer, ov app.Overview) {
	fmt.Fprintf(w, "conversation %d", ov.ConversationID)
	if ov.RoomID != "" {
		fmt.Fprintf(w, " (%s)", ov.RoomID)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\nmemories: %d\n", len(ov.Items))
	for _, it := range ov.Items {
		fmt.Fprintf(w, "  - [%s] %s\n", it.Type, it.Content)
	}

	fmt.Fprintf(w, "\nsummaries (thread %s", ov.Thread)
	if ov.ThreadRoot != "" {
		fmt.Fprintf(w, ", root %s", ov.ThreadRoot)
	}
	fmt.Fprintf(w, "): %d\n", len(ov.Summaries))
	for _, sum := range ov.Summaries {
		fmt.Fprintf(w, "  - %s .. %s, %d messages: %s\n",
			sum.From.Format(time.RFC3339), sum.To.Format(time.RFC3339), sum.MessageCount, sum.Summary)
	}
}
