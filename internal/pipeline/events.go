package pipeline

// EventSink receives fire-and-forget progress notifications. Implementations
// may do anything; a sink that panics must not take the pipeline down, so
// every invocation goes through a recover wrapper.
type EventSink interface {
	// YearScanned fires after each calendar year of contribution discovery.
	YearScanned(year, reposFound int)

	// RepoEnumerated fires after SHA enumeration finishes for a repository.
	RepoEnumerated(repo string, shaCount int)

	// DetailProgress fires after each completed detail-fetch batch.
	DetailProgress(fetched, total int)

	// PRCountProgress fires after each PR-count fetch.
	PRCountProgress(fetched, total int)

	// AggregateStarting fires once, just before aggregation.
	AggregateStarting()
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) YearScanned(int, int)       {}
func (NopSink) RepoEnumerated(string, int) {}
func (NopSink) DetailProgress(int, int)    {}
func (NopSink) PRCountProgress(int, int)   {}
func (NopSink) AggregateStarting()         {}
