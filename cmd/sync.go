package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/provider-sync/internal/ingest"
	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/providersync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect provider syncs",
}

// -- sync full --

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Ingest, match, merge and rank every category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.RunFull(cmd.Context(), fullOptsFromFlags(cmd.Flags()))
		if err != nil {
			return eris.Wrap(err, "sync full")
		}
		return reportRun(os.Stdout, res)
	},
}

// -- sync ingest --

var syncIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch listings from the sources without merging",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.RunIngestion(cmd.Context(), ingestOptsFromFlags(cmd.Flags()))
		if err != nil {
			return eris.Wrap(err, "sync ingest")
		}
		return reportRun(os.Stdout, res)
	},
}

// -- sync match --

var syncMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match and merge already ingested records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		categories, _ := cmd.Flags().GetStringSlice("category")
		res, err := env.Engine.RunMatchAndMerge(cmd.Context(), categories)
		if err != nil {
			return eris.Wrap(err, "sync match")
		}
		return reportRun(os.Stdout, res)
	},
}

// -- sync provider --

var syncProviderCmd = &cobra.Command{
	Use:   "provider <name>",
	Short: "Look up and merge a single provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initSync(cmd.Context(), "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		category, _ := cmd.Flags().GetString("category")
		location, _ := cmd.Flags().GetString("location")
		res, err := env.Engine.SyncProvider(cmd.Context(), args[0], category, location)
		if err != nil {
			return eris.Wrap(err, "sync provider")
		}
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("sync provider: %s", res.Status)
		}
		return nil
	},
}

// -- sync rankings --

var syncRankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Recompute ranking positions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		category, _ := cmd.Flags().GetString("category")
		res, err := env.Engine.RebuildRankings(cmd.Context(), category)
		if err != nil {
			return eris.Wrap(err, "sync rankings")
		}
		return reportRun(os.Stdout, res)
	},
}

// -- sync stats --

var syncResetMatchesCmd = &cobra.Command{
	Use:   "reset-matches",
	Short: "Clear matched flags so source records are paired again",
	Long: `Clears the matched flag on ingested source records so the next match
pass reconsiders them. Canonical providers and merge history are kept; a
re-merge resolves back onto the same providers by native id.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		category, _ := cmd.Flags().GetString("category")
		res, err := env.Engine.ResetMatches(cmd.Context(), category)
		if err != nil {
			return eris.Wrap(err, "sync reset-matches")
		}
		return reportRun(os.Stdout, res)
	},
}

var syncStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show provider, source and matching counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Engine.Stats(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "sync stats")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, stats)
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

// -- sync status --

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a full sync is due",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		window, _ := cmd.Flags().GetDuration("window")
		if window <= 0 {
			window = freshness(cfg)
		}
		needed, last, err := env.Engine.IsSyncNeeded(cmd.Context(), window)
		if err != nil {
			return eris.Wrap(err, "sync status")
		}
		formatStatus(os.Stdout, needed, last, window)
		return nil
	},
}

// -- sync history --

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initSync(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := env.Engine.History(cmd.Context(), limit)
		if err != nil {
			return eris.Wrap(err, "sync history")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func addIngestFlags(fs *pflag.FlagSet) {
	fs.StringSlice("category", nil, "category slugs to sync (default: sync.categories, or all)")
	fs.String("location", "", "search location (default from config)")
	fs.Int("limit", 0, "max results per source query (default from config)")
	fs.Bool("skip-google", false, "do not query Google Places")
	fs.Bool("skip-yelp", false, "do not query Yelp")
}

func init() {
	addIngestFlags(syncFullCmd.Flags())
	syncFullCmd.Flags().Bool("skip-ingest", false, "reuse already ingested records")
	syncFullCmd.Flags().Bool("skip-match", false, "skip the match stage")
	syncFullCmd.Flags().Bool("skip-merge", false, "skip the merge stage")
	syncFullCmd.Flags().Bool("skip-rankings", false, "skip ranking positions")

	addIngestFlags(syncIngestCmd.Flags())

	syncMatchCmd.Flags().StringSlice("category", nil, "category slugs to match (default all)")

	syncProviderCmd.Flags().String("category", "", "category slug")
	syncProviderCmd.Flags().String("location", "", "search location (default from config)")
	_ = syncProviderCmd.MarkFlagRequired("category")

	syncRankingsCmd.Flags().String("category", "", "category slug (default all)")

	syncResetMatchesCmd.Flags().String("category", "", "category slug (default all)")

	syncStatsCmd.Flags().Bool("json", false, "print stats as JSON")

	syncStatusCmd.Flags().Duration("window", 0, "freshness window (default sync.freshness_hours)")

	syncHistoryCmd.Flags().Int("limit", 0, "max number of runs to display (default sync.history_limit)")

	syncCmd.AddCommand(syncFullCmd)
	syncCmd.AddCommand(syncIngestCmd)
	syncCmd.AddCommand(syncMatchCmd)
	syncCmd.AddCommand(syncProviderCmd)
	syncCmd.AddCommand(syncRankingsCmd)
	syncCmd.AddCommand(syncResetMatchesCmd)
	syncCmd.AddCommand(syncStatsCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	rootCmd.AddCommand(syncCmd)
}

// ingestOptsFromFlags reads the shared ingest flags. Categories fall back to
// sync.categories when cfg is loaded.
func ingestOptsFromFlags(fs *pflag.FlagSet) ingest.IngestOpts {
	categories, _ := fs.GetStringSlice("category")
	location, _ := fs.GetString("location")
	limit, _ := fs.GetInt("limit")
	skipGoogle, _ := fs.GetBool("skip-google")
	skipYelp, _ := fs.GetBool("skip-yelp")

	if len(categories) == 0 && cfg != nil {
		categories = cfg.Sync.Categories
	}
	return ingest.IngestOpts{
		Categories: categories,
		Location:   location,
		Limit:      limit,
		SkipGoogle: skipGoogle,
		SkipYelp:   skipYelp,
	}
}

func fullOptsFromFlags(fs *pflag.FlagSet) providersync.FullOpts {
	skipIngest, _ := fs.GetBool("skip-ingest")
	skipMatch, _ := fs.GetBool("skip-match")
	skipMerge, _ := fs.GetBool("skip-merge")
	skipRankings, _ := fs.GetBool("skip-rankings")
	return providersync.FullOpts{
		Ingest:       ingestOptsFromFlags(fs),
		SkipIngest:   skipIngest,
		SkipMatch:    skipMatch,
		SkipMerge:    skipMerge,
		SkipRankings: skipRankings,
	}
}

// reportRun prints res as JSON and turns an unsuccessful run into a
// non-zero exit.
func reportRun(w io.Writer, res *model.SyncResult) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.Success {
		return eris.Errorf("%s run %s finished with %d error(s)", res.Mode, res.RunID, len(res.Errors))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTARTED\tDURATION\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			shortID(r.ID),
			r.Mode,
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			len(r.Errors),
		)
	}
	w.Flush() //nolint:errcheck
}

// formatStats writes the health snapshot to w.
func formatStats(out io.Writer, s *model.SyncStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Providers:\t%d\n", s.Providers)
	fmt.Fprintf(w, "Active + listed:\t%d\n", s.ActiveListed)

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[model.SyncStatus(st)])
	}

	fmt.Fprintf(w, "Google records:\t%d\n", s.SourceRecords[model.SourceGoogle])
	fmt.Fprintf(w, "Yelp records:\t%d\n", s.SourceRecords[model.SourceYelp])

	if s.LastSuccessful != nil {
		fmt.Fprintf(w, "Last successful run:\t%s\n", s.LastSuccessful.StartedAt.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last successful run:\tnever")
	}
	fmt.Fprintf(w, "Sync needed:\t%t\n", s.SyncNeeded)
	w.Flush() //nolint:errcheck
}

func formatStatus(out io.Writer, needed bool, last *model.RunRecord, window time.Duration) {
	switch {
	case last == nil:
		fmt.Fprintln(out, "No successful full sync on record. Sync needed.")
	case needed:
		fmt.Fprintf(out, "Last successful full sync %s is older than %s. Sync needed.\n",
			last.StartedAt.Local().Format(time.RFC3339), window)
	default:
		fmt.Fprintf(out, "Last successful full sync %s is within %s. Up to date.\n",
			last.StartedAt.Local().Format(time.RFC3339), window)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
