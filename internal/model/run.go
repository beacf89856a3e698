package model

import "time"

// SyncMode names the orchestrator entry point a run came from.
type SyncMode string

const (
	ModeFull         SyncMode = "full"
	ModeIngest       SyncMode = "ingest"
	ModeMatchMerge   SyncMode = "match_merge"
	ModeProvider     SyncMode = "provider"
	ModeRankings     SyncMode = "rankings"
	ModeResetMatches SyncMode = "reset_matches"
)

// RunStatus is the lifecycle state of a run-history row.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is one row of run history.
type RunRecord struct {
	ID          string         `json:"id"`
	Mode        SyncMode       `json:"mode"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Success     bool           `json:"success"`
	Summary     map[string]int `json:"summary,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
}

// SyncResult is the combined outcome of an orchestrated run.
type SyncResult struct {
	RunID        string         `json:"run_id"`
	Mode         SyncMode       `json:"mode"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Ingest       *IngestResult  `json:"ingest,omitempty"`
	Match        *MatchResult   `json:"match,omitempty"`
	Merge        *MergeResult   `json:"merge,omitempty"`
	Rankings     *RankingResult `json:"rankings,omitempty"`
	Deactivated  int64          `json:"deactivated"`
	Reactivated  int64          `json:"reactivated"`
	MatchesReset int64          `json:"matches_reset,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	Success      bool           `json:"success"`
}

// Summary flattens stage counts for the run log.
func (r *SyncResult) Summary() map[string]int {
	s := map[string]int{}
	if r.Ingest != nil {
		for src, n := range r.Ingest.Fetched {
			s["fetched_"+string(src)] = n
		}
		s["stored"] = int(r.Ingest.Stored)
	}
	if r.Match != nil {
		s["auto_matches"] = r.Match.AutoMatches
		s["partial_matches"] = r.Match.PartialMatches
		s["no_matches"] = r.Match.NoMatches
	}
	if r.Merge != nil {
		s["providers_created"] = r.Merge.ProvidersCreated
		s["providers_updated"] = r.Merge.ProvidersUpdated
		s["content_changed"] = r.Merge.ContentChanged
		s["single_source_created"] = r.Merge.SingleSourceCreated
		s["matches_recorded"] = r.Merge.MatchesRecorded
	}
	if r.Rankings != nil {
		s["positions_updated"] = r.Rankings.Updated
	}
	if r.Deactivated > 0 {
		s["deactivated"] = int(r.Deactivated)
	}
	if r.Reactivated > 0 {
		s["reactivated"] = int(r.Reactivated)
	}
	if r.MatchesReset > 0 {
		s["matches_reset"] = int(r.MatchesReset)
	}
	return s
}

// SyncStats is the operator-facing snapshot of sync health.
type SyncStats struct {
	Providers      int                `json:"providers"`
	ActiveListed   int                `json:"active_listed"`
	ByStatus       map[SyncStatus]int `json:"by_status"`
	SourceRecords  map[SourceType]int `json:"source_records"`
	Matching       []MatchStats       `json:"matching"`
	LastRun        *RunRecord         `json:"last_run,omitempty"`
	LastSuccessful *RunRecord         `json:"last_successful,omitempty"`
	SyncNeeded     bool               `json:"sync_needed"`
}
