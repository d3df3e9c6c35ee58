package store

import "time"

// Trend is one collected content record: a trending post plus any images
// downloaded for it. The core treats these as opaque input data.
type Trend struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Score       int       `json:"score"`
	URL         string    `json:"url,omitempty"`
	ImagePaths  []string  `json:"image_paths,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// RunRecord is the persisted bookkeeping for one script invocation in a
// batch: what was executed, with which prompt, and how it ended.
type RunRecord struct {
	ID         string    `json:"id"`
	Script     string    `json:"script"`
	TrendID    string    `json:"trend_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Status     string    `json:"status"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}
