package main

import (
	"reflect"
	"strings"
	"testing"
)

func newTestParser(t *testing.T) *ResponseParser {
	t.Helper()
	return NewResponseParser(testCatalog(t), []string{"Mission Local"}, 500)
}

func TestParseFallbackLadder(t *testing.T) {
	p := newTestParser(t)

	strict := p.Parse(`{"neighborhood":"Mission","confidence":0.9,"rationale":"explicit mention"}`)
	if strict.Label != "Mission" || strict.Confidence != 0.9 || strict.Rationale != "explicit mention" {
		t.Errorf("strict parse = %+v", strict)
	}

	lenient := p.Parse("I think this is about the Mission District somewhere")
	if lenient.Label != "Mission" {
		t.Errorf("lenient label = %q, want Mission", lenient.Label)
	}
	if lenient.Confidence >= 0.5 {
		t.Errorf("lenient confidence = %v, want < 0.5", lenient.Confidence)
	}
	if !strings.Contains(lenient.Rationale, "lenient") {
		t.Errorf("lenient rationale = %q, want a fallback note", lenient.Rationale)
	}

	none := p.Parse("lorem ipsum")
	if none.Label != ScopeUnknown || none.Confidence != 0 || none.Rationale != unparseableRationale {
		t.Errorf("unparseable parse = %+v", none)
	}
}

func TestParseStructured(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name           string
		raw            string
		wantLabel      string
		wantConfidence float64
		wantRationale  string
	}{
		{
			name:           "code fence",
			raw:            "```json\n{\"neighborhood\": \"SOMA\", \"confidence\": 0.8, \"rationale\": \"Moscone\"}\n```",
			wantLabel:      "SOMA",
			wantConfidence: 0.8,
		},
		{
			name:           "surrounding prose",
			raw:            `Sure! Here is the answer: {"neighborhood": "Bernal Heights", "confidence": 0.7, "rationale": "Cortland"} Hope that helps.`,
			wantLabel:      "Bernal Heights",
			wantConfidence: 0.7,
		},
		{
			name:           "braces in prose before the object",
			raw:            `Sure! {note} here: {"neighborhood":"the mission","confidence":0.95,"rationale":"Valencia St"}`,
			wantLabel:      "Mission",
			wantConfidence: 0.95,
			wantRationale:  "Valencia St",
		},
		{
			name:           "object without a label before the answer",
			raw:            `{"step": 1} {"neighborhood": "SOMA", "confidence": 0.8}`,
			wantLabel:      "SOMA",
			wantConfidence: 0.8,
		},
		{
			name:           "braces inside strings",
			raw:            `{"neighborhood": "SOMA", "confidence": 0.6, "rationale": "quotes {a} and } stray"}`,
			wantLabel:      "SOMA",
			wantConfidence: 0.6,
			wantRationale:  "quotes {a} and } stray",
		},
		{
			name:           "alias is resolved",
			raw:            `{"neighborhood": "The Castro", "confidence": 0.75, "rationale": "x"}`,
			wantLabel:      "Castro/Upper Market",
			wantConfidence: 0.75,
		},
		{
			name:           "scope label normalized",
			raw:            `{"neighborhood": "Citywide", "confidence": 0.95, "rationale": "budget"}`,
			wantLabel:      ScopeCitywide,
			wantConfidence: 0.95,
		},
		{
			name:           "label key",
			raw:            `{"label": "Mission Bay", "confidence": 0.5}`,
			wantLabel:      "Mission Bay",
			wantConfidence: 0.5,
		},
		{
			name:           "unrecognized label demoted",
			raw:            `{"neighborhood": "Oakland", "confidence": 0.9, "rationale": "port"}`,
			wantLabel:      ScopeUnknown,
			wantConfidence: 0,
			wantRationale:  `unrecognized label "Oakland"; port`,
		},
		{
			name:           "confidence above range clamped",
			raw:            `{"neighborhood": "Mission", "confidence": 1.7}`,
			wantLabel:      "Mission",
			wantConfidence: 1,
		},
		{
			name:           "confidence below range clamped",
			raw:            `{"neighborhood": "Mission", "confidence": -0.2}`,
			wantLabel:      "Mission",
			wantConfidence: 0,
		},
		{
			name:           "missing confidence",
			raw:            `{"neighborhood": "Mission", "rationale": "x"}`,
			wantLabel:      "Mission",
			wantConfidence: 0,
		},
		{
			name:           "string confidence",
			raw:            `{"neighborhood": "Mission", "confidence": "0.65"}`,
			wantLabel:      "Mission",
			wantConfidence: 0.65,
		},
		{
			name:           "percentage confidence",
			raw:            `{"neighborhood": "Mission", "confidence": "85%"}`,
			wantLabel:      "Mission",
			wantConfidence: 0.85,
		},
		{
			name:           "multiple neighborhoods keep the first",
			raw:            `{"neighborhood": "Mission, Bernal Heights", "confidence": 0.6, "rationale": "border"}`,
			wantLabel:      "Mission",
			wantConfidence: 0.6,
			wantRationale:  "border; also mentioned: Bernal Heights",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.raw)
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
			if tt.wantRationale != "" && got.Rationale != tt.wantRationale {
				t.Errorf("Rationale = %q, want %q", got.Rationale, tt.wantRationale)
			}
		})
	}
}

func TestParseLenient(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name      string
		raw       string
		wantLabel string
	}{
		{"longest name wins", "Probably Mission Bay, near the ballpark", "Mission Bay"},
		{"scope label", "This reads as a citywide story", ScopeCitywide},
		{"publication name ignored", "Mission Local reports on the citywide budget", ScopeCitywide},
		{"two neighborhoods is ambiguous", "Either the Mission or Bernal", ScopeUnknown},
		{"word boundaries", "Missionaries visited", ScopeUnknown},
		{"object without a label", `{"answer": "unsure"} but it mentions SoMa`, "SOMA"},
		{"only unknown mentioned", "The location is unknown", ScopeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.raw)
			if got.Label != tt.wantLabel {
				t.Errorf("Parse(%q).Label = %q, want %q", tt.raw, got.Label, tt.wantLabel)
			}
			if got.Label == ScopeUnknown && got.Confidence != 0 {
				t.Errorf("unknown result has confidence %v", got.Confidence)
			}
			if got.Label != ScopeUnknown && got.Confidence != lenientConfidence {
				t.Errorf("lenient confidence = %v, want %v", got.Confidence, lenientConfidence)
			}
		})
	}
}

func TestParseLenientNonASCII(t *testing.T) {
	catalog, err := ParseCatalog("test", strings.NewReader("canonical,aliases\nÖstermalm,\nSödermalm,Söder\n"))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	p := NewResponseParser(catalog, []string{"Östermalms Tidning"}, 500)

	tests := []struct {
		name      string
		raw       string
		wantLabel string
	}{
		{"accented name", "This story is about Östermalm, definitely", "Östermalm"},
		{"accented name lowercased", "somewhere in östermalm.", "Östermalm"},
		{"accented alias", "Söder, by the water", "Södermalm"},
		{"embedded in a longer word", "Östermalmsgatan is closed", ScopeUnknown},
		{"letter before the name", "Nyöstermalm", ScopeUnknown},
		{"ignore phrase", "Östermalms Tidning covers Södermalm", "Södermalm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.raw)
			if got.Label != tt.wantLabel {
				t.Errorf("Parse(%q).Label = %q, want %q", tt.raw, got.Label, tt.wantLabel)
			}
			if got.Label != ScopeUnknown && got.Confidence != lenientConfidence {
				t.Errorf("Parse(%q).Confidence = %v, want %v", tt.raw, got.Confidence, lenientConfidence)
			}
		})
	}
}

func TestParseTruncatesRationale(t *testing.T) {
	p := NewResponseParser(testCatalog(t), nil, 10)
	got := p.Parse(`{"neighborhood": "Mission", "confidence": 0.5, "rationale": "` + strings.Repeat("a", 50) + `"}`)
	if got.Rationale != strings.Repeat("a", 10)+"..." {
		t.Errorf("Rationale = %q", got.Rationale)
	}
}

func TestParseAlwaysYieldsValidResult(t *testing.T) {
	c := testCatalog(t)
	p := NewResponseParser(c, nil, 500)

	inputs := []string{
		"",
		"{",
		"}{",
		"{}",
		`{"neighborhood": 42}`,
		`{"neighborhood": "Mission District", "confidence": 3}`,
		`{"neighborhood": "mission", "confidence": "high"}`,
		"```json\n{\"neighborhood\": \"somewhere\"}",
		`[{"neighborhood": "Mission"}]`,
		"national and international news",
		"South of Market",
	}

	for _, raw := range inputs {
		got := p.Parse(raw)
		if !c.IsValidLabel(got.Label) {
			t.Errorf("Parse(%q).Label = %q is not a valid label", raw, got.Label)
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Errorf("Parse(%q).Confidence = %v out of range", raw, got.Confidence)
		}
	}
}

func TestExtractObjects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "no braces", nil},
		{"simple", `x {"a":1} y`, []string{`{"a":1}`}},
		{"nested", `{"a":{"b":2}} {"c":3}`, []string{`{"a":{"b":2}}`, `{"c":3}`}},
		{"escaped quote", `{"a":"he said \"}\""}`, []string{`{"a":"he said \"}\""}`}},
		{"prose quotes outside objects", `he said "hi {x} ok`, []string{`{x}`}},
		{"stray closing brace", `} {"a":1}`, []string{`{"a":1}`}},
		{"unbalanced falls back to last brace", `{ {"a": 1}`, []string{`{ {"a": 1}`}},
		{"unterminated", `{"a": 1`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractObjects(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractObjects(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
