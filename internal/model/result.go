package model

// Stage results. Per-record problems land in Errors and never abort a stage;
// Success reports whether the stage as a whole is usable.

// IngestResult summarizes one ingestion pass.
type IngestResult struct {
	Sources []SourceType       `json:"sources"` // sources queried this pass
	Fetched map[SourceType]int `json:"fetched"`
	Stored  int64              `json:"stored"`
	Queries int                `json:"queries"`
	Errors  []string           `json:"errors,omitempty"`
	Success bool               `json:"success"`
}

// MatchResult summarizes one matching pass.
type MatchResult struct {
	Candidates      []MatchCandidate `json:"-"`
	AutoMatches     int              `json:"auto_matches"`
	PartialMatches  int              `json:"partial_matches"`
	NoMatches       int              `json:"no_matches"`
	UnmatchedGoogle int              `json:"unmatched_google"`
	UnmatchedYelp   int              `json:"unmatched_yelp"`
	Errors          []string         `json:"errors,omitempty"`
	Success         bool             `json:"success"`
}

// MergeResult summarizes one merge pass.
type MergeResult struct {
	ProvidersCreated    int      `json:"providers_created"`
	ProvidersUpdated    int      `json:"providers_updated"`
	ContentChanged      int      `json:"content_changed"`
	SingleSourceCreated int      `json:"single_source_created"`
	MatchesRecorded     int      `json:"matches_recorded"`
	Conflicts           int      `json:"conflicts"`
	Errors              []string `json:"errors,omitempty"`
	Success             bool     `json:"success"`
}

// RankingResult summarizes one ranking rebuild.
type RankingResult struct {
	Categories int      `json:"categories"`
	Updated    int      `json:"updated"`
	Errors     []string `json:"errors,omitempty"`
	Success    bool     `json:"success"`
}

// SingleResult is the outcome of syncing one named provider.
type SingleResult struct {
	Provider *Provider       `json:"provider,omitempty"`
	Status   SyncStatus      `json:"status"`
	Match    *MatchCandidate `json:"match,omitempty"`
	Merge    *MergeResult    `json:"merge,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
	Success  bool            `json:"success"`
}
