package main

import (
	"strings"
	"testing"
)

func TestRenderSummary(t *testing.T) {
	s := &RunSummary{
		Total:      10,
		Skipped:    4,
		Classified: 3,
		Unknown:    1,
		Failed:     1,
		Empty:      1,
		Labels:     map[string]int{"Mission": 5, ScopeUnknown: 3, "SOMA": 2},

		BucketBelow50: 3,
		Bucket90Plus:  7,
	}

	out := RenderSummary(s, "classified.csv")
	for _, want := range []string{"Classification complete", "Records:     10", "Resumed:     4", "Errored:     1", "<0.5 3 | 0.5-0.7 0 | 0.7-0.9 0 | >=0.9 7", "Mission", "classified.csv"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	s.Interrupted = true
	if out := RenderSummary(s, ""); !strings.Contains(out, "Classification interrupted") {
		t.Errorf("interrupted summary title missing:\n%s", out)
	}
}

func TestTopLabels(t *testing.T) {
	got := topLabels(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)

	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("topLabels() returned %d labels, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].name != name {
			t.Errorf("topLabels()[%d] = %q, want %q", i, got[i].name, name)
		}
	}
}
