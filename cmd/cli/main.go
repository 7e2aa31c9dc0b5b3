package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mkurata/gh-lang-stats/internal/config"
	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/github"
	"github.com/mkurata/gh-lang-stats/internal/pipeline"
	"github.com/mkurata/gh-lang-stats/internal/ratelimit"
	"github.com/mkurata/gh-lang-stats/internal/report"
	"github.com/mkurata/gh-lang-stats/internal/storage"
	"github.com/mkurata/gh-lang-stats/internal/storage/jsonfile"
	"github.com/mkurata/gh-lang-stats/internal/storage/postgres"
	"github.com/mkurata/gh-lang-stats/internal/storage/sqlite"
)

var (
	repoFilter   []string
	includePRs   bool
	includeDates bool
	excludeLangs []string
	sinceYear    int
	concurrency  int
	outPath      string
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "gh-lang-stats",
	Short: "Per-author lines-changed statistics by language",
	Long: `A CLI tool that computes per-language "lines changed" statistics across
all repositories a GitHub user has contributed to, counting only commits
authored by that user.

Collection is resumable: progress is cached locally and a rerun picks up
exactly where the previous run stopped.`,
}

var collectCmd = &cobra.Command{
	Use:   "collect [user]",
	Short: "Collect commit data and compute statistics",
	Long: `Discover repositories, enumerate authored commits, fetch per-commit file
stats, and aggregate lines changed per language. Progress is flushed to the
cache continuously so an interrupted run resumes where it left off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCollect,
}

var statsCmd = &cobra.Command{
	Use:   "stats [user]",
	Short: "Re-aggregate cached data without fetching",
	Long:  `Compute statistics from whatever the local cache already holds. Never touches the network.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var reposCmd = &cobra.Command{
	Use:   "repos [user]",
	Short: "List cached repositories and their collection status",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepos,
}

func init() {
	collectCmd.Flags().StringSliceVar(&repoFilter, "repos", nil, "restrict to these owner/name repositories")
	collectCmd.Flags().BoolVar(&includePRs, "prs", false, "also collect per-repository PR counts (slow: search API)")
	collectCmd.Flags().IntVar(&sinceYear, "since-year", 0, "only consider commits from this year on (overrides SINCE_YEAR)")
	collectCmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent detail fetches (overrides CONCURRENCY)")

	for _, cmd := range []*cobra.Command{collectCmd, statsCmd} {
		cmd.Flags().BoolVar(&includeDates, "dates", false, "include per-repository commit dates in the output")
		cmd.Flags().StringSliceVar(&excludeLangs, "exclude", nil, "language labels to exclude from the totals")
		cmd.Flags().StringVar(&outPath, "out", "", "write the full JSON result to this file")
		cmd.Flags().BoolVar(&outputJSON, "json", false, "print the full JSON result to stdout")
	}
	statsCmd.Flags().BoolVar(&includePRs, "prs", false, "include cached PR counts in the output")
	statsCmd.Flags().StringSliceVar(&repoFilter, "repos", nil, "restrict to these owner/name repositories")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reposCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewBackend(cfg.PostgresURL)
	case "sqlite":
		return sqlite.NewBackend(cfg.SQLitePath)
	default:
		return jsonfile.NewBackend(cfg.CacheDir)
	}
}

// consoleSink prints progress as the pipeline advances.
type consoleSink struct{}

func (consoleSink) YearScanned(year, found int) {
	fmt.Printf("  scanned %d: %d new repositories\n", year, found)
}

func (consoleSink) RepoEnumerated(repo string, shaCount int) {
	fmt.Printf("  %s: %d authored commits\n", repo, shaCount)
}

func (consoleSink) DetailProgress(fetched, total int) {
	fmt.Printf("\r  commit details: %d/%d", fetched, total)
	if fetched == total {
		fmt.Println()
	}
}

func (consoleSink) PRCountProgress(fetched, total int) {
	fmt.Printf("\r  PR counts: %d/%d", fetched, total)
	if fetched == total {
		fmt.Println()
	}
}

func (consoleSink) AggregateStarting() {
	fmt.Println("Aggregating...")
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	backend, err := getBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := ratelimit.NewTracker()
	source := github.NewSource(cfg.GithubToken, tracker)

	user := ""
	if len(args) > 0 {
		user = args[0]
	}
	if user == "" {
		identity, err := source.ResolveIdentity(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve authenticated user: %w", err)
		}
		user = identity.Login
	}

	opts := pipeline.Options{
		User:             user,
		SinceYear:        cfg.SinceYear,
		Concurrency:      cfg.Concurrency,
		IncludePRs:       includePRs,
		IncludeDates:     includeDates,
		ExcludeLanguages: excludeLangs,
		AllowList:        repoFilter,
	}
	if sinceYear > 0 {
		opts.SinceYear = sinceYear
	}
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}

	fmt.Printf("Collecting lines-changed statistics for %s\n", user)
	p := pipeline.New(source, backend, consoleSink{}, opts)

	stats, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}
	if failed := p.FailedUnits(); failed > 0 {
		fmt.Printf("Note: %d commits could not be fetched and were skipped\n", failed)
	}

	return emit(stats)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	backend, err := getBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	opts := pipeline.Options{
		User:             args[0],
		IncludePRs:       includePRs,
		IncludeDates:     includeDates,
		ExcludeLanguages: excludeLangs,
		AllowList:        repoFilter,
		SkipCollection:   true,
	}

	stats, err := pipeline.New(nil, backend, nil, opts).Run(context.Background())
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}
	return emit(stats)
}

func runRepos(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	backend, err := getBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	state, err := backend.Load(context.Background(), args[0])
	if err != nil {
		return err
	}

	repos := state.Repositories()
	if len(repos) == 0 {
		fmt.Println("No cached data. Run 'gh-lang-stats collect' first.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Commits", "Enumerated", "PR Count"})
	for _, r := range repos {
		enumerated := "no"
		if state.IsSHAComplete(r.Key()) {
			enumerated = "yes"
		}
		prCount := "-"
		if n, ok := state.PRCount(r.Key()); ok {
			prCount = fmt.Sprintf("%d", n)
		}
		table.Append([]string{
			r.Key(),
			fmt.Sprintf("%d", len(state.CommitsFor(r.Key()))),
			enumerated,
			prCount,
		})
	}
	table.Render()
	return nil
}

func emit(stats *domain.AggregatedStats) error {
	if outPath != "" {
		if err := report.WriteJSON(outPath, stats); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Printf("Wrote %s\n", outPath)
	}
	if outputJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	report.Render(os.Stdout, stats)
	return nil
}
