package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func recordIDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSampleRecords(t *testing.T) {
	records := testRecords(50)

	first := recordIDs(SampleRecords(records, 10, 42))
	second := recordIDs(SampleRecords(records, 10, 42))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed picked %v then %v", first, second)
	}
	if len(first) != 10 {
		t.Fatalf("picked %d records, want 10", len(first))
	}

	seen := make(map[string]bool)
	for _, id := range first {
		if seen[id] {
			t.Errorf("record %s picked twice", id)
		}
		seen[id] = true
	}

	if got := SampleRecords(records[:3], 10, 42); len(got) != 3 {
		t.Errorf("oversized sample picked %d records, want 3", len(got))
	}
	if got := SampleRecords(records, 0, 42); got != nil {
		t.Errorf("empty sample = %v, want nil", got)
	}
}

func TestSamplePath(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"results.csv", "results.sample.csv"},
		{"out/classified.csv", "out/classified.sample.csv"},
		{"results", "results.sample"},
	}

	for _, tt := range tests {
		if got := samplePath(tt.output); got != tt.want {
			t.Errorf("samplePath(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestClassifySample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review.csv")
	dataset := &Dataset{Source: "test", Header: testHeader, Records: testRecords(12)}
	classifier := newStubClassifier()

	summary, err := classifySample(context.Background(), classifier, newTestParser(t), dataset, RunnerOptions{MaxAttempts: 1}, 4, 42, path)
	if err != nil {
		t.Fatalf("classifySample() error = %v", err)
	}

	want := recordIDs(SampleRecords(dataset.Records, 4, 42))
	if !reflect.DeepEqual(classifier.order, want) {
		t.Errorf("classified %v, want %v", classifier.order, want)
	}
	if summary.Total != 4 || summary.Classified != 4 {
		t.Errorf("summary = %+v, want 4 classified of 4", summary)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows[0], OutputHeader(testHeader)) {
		t.Errorf("header = %v", rows[0])
	}
	var got []string
	for _, row := range rows[1:] {
		got = append(got, row[0])
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sample rows = %v, want %v", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("sample run left %d files, want only the review file", len(entries))
	}
}

func TestClassifySampleRejectsEmptySize(t *testing.T) {
	dataset := &Dataset{Source: "test", Header: testHeader, Records: testRecords(3)}
	classifier := newStubClassifier()

	if _, err := classifySample(context.Background(), classifier, newTestParser(t), dataset, RunnerOptions{}, 0, 42, filepath.Join(t.TempDir(), "x.csv")); err == nil {
		t.Error("classifySample(size 0) error = nil, want error")
	}
	if classifier.totalCalls() != 0 {
		t.Errorf("classifier called %d times", classifier.totalCalls())
	}
}

func TestRunSampleRequiresAPIKey(t *testing.T) {
	dir := t.TempDir()
	err := runSample(context.Background(), testConfig(t, dir), "", 5, 42, filepath.Join(dir, "review.csv"))
	if !IsFatal(err) {
		t.Fatalf("runSample() error = %v, want fatal", err)
	}
}
