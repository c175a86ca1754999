package main

import "time"

// Scope labels used when an article is not about a single neighborhood
const (
	ScopeCitywide      = "citywide"
	ScopeRegional      = "regional"
	ScopeStatewide     = "statewide"
	ScopeNational      = "national"
	ScopeInternational = "international"
	ScopeUnknown       = "unknown"
)

// ScopeLabels lists the scope labels in the order they are shown to the model
var ScopeLabels = []string{
	ScopeCitywide,
	ScopeRegional,
	ScopeStatewide,
	ScopeNational,
	ScopeInternational,
	ScopeUnknown,
}

// Record represents one input article
type Record struct {
	ID         string
	Title      string
	Body       string
	Tags       string
	Categories string
	// Values holds the original row, column-aligned with the dataset header
	Values []string
}

// ClassificationResult is the output attached to a record
type ClassificationResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// RecordStatus represents the lifecycle state of a record within a run
type RecordStatus string

const (
	StatusPending         RecordStatus = "pending"
	StatusInFlight        RecordStatus = "in_flight"
	StatusClassified      RecordStatus = "classified"
	StatusFailedPermanent RecordStatus = "failed_permanent"
	StatusSkipped         RecordStatus = "skipped_already_done"
)

// ResultRow pairs an input row with its classification
type ResultRow struct {
	ID     string               `json:"id"`
	Values []string             `json:"values"`
	Status RecordStatus         `json:"status"`
	Result ClassificationResult `json:"result"`
}

// RunSummary tracks the outcome counts of a run
type RunSummary struct {
	RunID      string
	Total      int
	Skipped    int
	Classified int
	Unknown    int
	Failed     int
	Empty      int
	Labels     map[string]int

	// Confidence distribution over every row in the output
	BucketBelow50 int
	Bucket50to70  int
	Bucket70to90  int
	Bucket90Plus  int

	Started     time.Time
	Finished    time.Time
	Interrupted bool
}
