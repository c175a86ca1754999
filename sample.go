package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
)

const (
	defaultSampleSize = 20
	defaultSampleSeed = 42
)

// SampleRecords picks n records at random without replacement, in pick order.
// The same seed over the same records always picks the same rows.
func SampleRecords(records []Record, n int, seed int64) []Record {
	if n > len(records) {
		n = len(records)
	}
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	out := make([]Record, 0, n)
	for _, i := range rng.Perm(len(records))[:n] {
		out = append(out, records[i])
	}
	return out
}

// samplePath derives the review file name from the output file:
// results.csv becomes results.sample.csv
func samplePath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + ".sample" + ext
}

// MemoryCheckpoint holds run state in memory. Sample runs use it so the
// checkpoint of the full run is never touched.
type MemoryCheckpoint struct {
	state *RunState
}

func (m *MemoryCheckpoint) Load() (*RunState, error) {
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryCheckpoint) Save(state *RunState) error {
	m.state = state.Clone()
	return nil
}

func (m *MemoryCheckpoint) String() string {
	return "memory"
}

// classifySample classifies a seeded random sample of the dataset and writes
// the rows to path in pick order
func classifySample(ctx context.Context, classifier Classifier, parser *ResponseParser, dataset *Dataset, opts RunnerOptions, size int, seed int64, path string) (*RunSummary, error) {
	if size < 1 {
		return nil, fmt.Errorf("sample size must be at least 1, got %d", size)
	}

	records := SampleRecords(dataset.Records, size, seed)
	log.Printf("Sampled %d of %d articles (seed %d)", len(records), len(dataset.Records), seed)

	store := &MemoryCheckpoint{}
	runner := NewRunner(classifier, parser, store, opts)
	state, err := runner.LoadState(dataset.Source, dataset.Header)
	if err != nil {
		return nil, err
	}

	summary, err := runner.Run(ctx, records, state)
	if err != nil {
		return summary, err
	}

	if err := WriteOutput(path, dataset.Header, state.Ordered(records)); err != nil {
		return summary, fmt.Errorf("writing sample %s: %w", path, err)
	}
	return summary, nil
}
