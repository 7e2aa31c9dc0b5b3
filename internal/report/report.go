// Package report is the output sink: it owns presentation and serialization
// of the aggregated statistics. Nothing here feeds back into collection.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/mkurata/gh-lang-stats/internal/domain"
)

// WriteJSON serializes the stats to path, atomically.
func WriteJSON(path string, stats *domain.AggregatedStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Render prints a console summary: global totals first, then the per-repo
// breakdown.
func Render(w io.Writer, stats *domain.AggregatedStats) {
	fmt.Fprintf(w, "\nLines changed by language: %s\n", stats.User)
	fmt.Fprintf(w, "Commits processed: %d across %d repositories\n\n",
		stats.CommitsProcessed, stats.ReposWithOutput)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Language", "Lines Changed"})
	for _, lc := range stats.Totals {
		table.Append([]string{lc.Language, fmt.Sprintf("%d", lc.Lines)})
	}
	table.Render()

	if len(stats.ByRepo) == 0 {
		return
	}

	fmt.Fprintf(w, "\nPer repository:\n\n")
	repoTable := tablewriter.NewWriter(w)
	header := []string{"Repository", "Top Language", "Lines Changed"}
	repoTable.SetHeader(header)
	for _, rs := range stats.ByRepo {
		top := ""
		total := 0
		if len(rs.Languages) > 0 {
			top = rs.Languages[0].Language
		}
		for _, lc := range rs.Languages {
			total += lc.Lines
		}
		row := []string{rs.Repo, top, fmt.Sprintf("%d", total)}
		repoTable.Append(row)
	}
	repoTable.Render()
}
