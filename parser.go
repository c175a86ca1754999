package main

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// lenientConfidence is assigned to labels recovered by scanning free text
	lenientConfidence = 0.3

	unparseableRationale = "unparseable response"
)

var codeFencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// labelKeys are accepted names for the label field, in priority order
var labelKeys = []string{"neighborhood", "label", "neighbourhood"}

type labelPattern struct {
	phrase
	label string
	size  int
}

// ResponseParser turns raw model output into a validated ClassificationResult.
// Parse never fails.
type ResponseParser struct {
	catalog      *Catalog
	ignore       []phrase
	patterns     []labelPattern
	maxRationale int
}

// NewResponseParser prepares the lenient-scan patterns for the catalog.
// ignorePhrases are masked out before scanning.
func NewResponseParser(catalog *Catalog, ignorePhrases []string, maxRationale int) *ResponseParser {
	p := &ResponseParser{catalog: catalog, maxRationale: maxRationale}

	for _, text := range ignorePhrases {
		if strings.TrimSpace(text) == "" {
			continue
		}
		p.ignore = append(p.ignore, newPhrase(text))
	}

	add := func(text, label string) {
		p.patterns = append(p.patterns, labelPattern{phrase: newPhrase(text), label: label, size: len(text)})
	}
	for _, e := range catalog.Entries() {
		add(e.Canonical, e.Canonical)
		for _, alias := range e.Aliases {
			add(alias, e.Canonical)
		}
	}
	for _, scope := range ScopeLabels {
		if scope != ScopeUnknown {
			add(scope, scope)
		}
	}

	// Longest first, so "Mission Bay" claims its text before "Mission" can
	sort.SliceStable(p.patterns, func(i, j int) bool {
		return p.patterns[i].size > p.patterns[j].size
	})

	return p
}

// phrase matches text case-insensitively. Ends that are letters or digits
// must not touch another letter or digit; RE2's \b only knows ASCII, so the
// boundaries are checked by hand.
type phrase struct {
	re         *regexp.Regexp
	start, end bool
}

func newPhrase(text string) phrase {
	text = strings.TrimSpace(text)
	first, _ := utf8.DecodeRuneInString(text)
	last, _ := utf8.DecodeLastRuneInString(text)
	return phrase{
		re:    regexp.MustCompile(`(?i)` + regexp.QuoteMeta(text)),
		start: isWordRune(first),
		end:   isWordRune(last),
	}
}

// find returns the byte ranges of the whole-word matches in s
func (ph phrase) find(s string) [][]int {
	var out [][]int
	for _, loc := range ph.re.FindAllStringIndex(s, -1) {
		if before, _ := utf8.DecodeLastRuneInString(s[:loc[0]]); ph.start && isWordRune(before) {
			continue
		}
		if after, _ := utf8.DecodeRuneInString(s[loc[1]:]); ph.end && isWordRune(after) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Parse extracts a result from raw, falling back from strict decoding to a
// lenient scan and finally to unknown
func (p *ResponseParser) Parse(raw string) ClassificationResult {
	if result, ok := p.decode(raw); ok {
		return p.finish(result)
	}
	if result, ok := p.scan(raw); ok {
		debugLog("lenient match: %s", result.Label)
		return p.finish(result)
	}
	return ClassificationResult{Label: ScopeUnknown, Confidence: 0, Rationale: unparseableRationale}
}

// decode attempts strict structured decoding of the first top-level JSON
// object that carries a label
func (p *ResponseParser) decode(raw string) (ClassificationResult, bool) {
	text := strings.TrimSpace(raw)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	for _, payload := range extractObjects(text) {
		if result, ok := p.decodeObject(payload); ok {
			return result, true
		}
	}
	return ClassificationResult{}, false
}

func (p *ResponseParser) decodeObject(payload string) (ClassificationResult, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return ClassificationResult{}, false
	}
	fields = lowerKeys(fields)

	var label string
	found := false
	for _, key := range labelKeys {
		if v, ok := fields[key]; ok {
			if s, ok := decodeString(v); ok {
				label, found = s, true
				break
			}
		}
	}
	if !found {
		return ClassificationResult{}, false
	}

	rationale, _ := decodeString(fields["rationale"])
	result := ClassificationResult{
		Confidence: decodeConfidence(fields["confidence"]),
		Rationale:  strings.TrimSpace(rationale),
	}

	return p.applyLabel(result, label), true
}

// applyLabel sets a validated label on result. Labels that resolve to neither
// a neighborhood nor a scope label demote the result to unknown.
func (p *ResponseParser) applyLabel(result ClassificationResult, label string) ClassificationResult {
	resolved, others, ok := p.resolveLabel(label)
	if !ok {
		result.Label = ScopeUnknown
		result.Confidence = 0
		result.Rationale = joinRationale(fmt.Sprintf("unrecognized label %q", label), result.Rationale)
		return result
	}
	result.Label = resolved
	if len(others) > 0 {
		result.Rationale = joinRationale(result.Rationale, "also mentioned: "+strings.Join(others, ", "))
	}
	return result
}

// resolveLabel maps a decoded label to a canonical name or scope label. Lists
// like "Mission, Bernal Heights" resolve to their first valid entry.
func (p *ResponseParser) resolveLabel(label string) (string, []string, bool) {
	if name, ok := p.resolveOne(label); ok {
		return name, nil, true
	}

	parts := strings.FieldsFunc(label, func(r rune) bool { return r == ',' || r == ';' })
	var resolved []string
	seen := make(map[string]bool)
	for _, part := range parts {
		name, ok := p.resolveOne(part)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		resolved = append(resolved, name)
	}
	if len(resolved) == 0 {
		return "", nil, false
	}
	return resolved[0], resolved[1:], true
}

func (p *ResponseParser) resolveOne(text string) (string, bool) {
	if name, ok := p.catalog.Resolve(text); ok {
		return name, true
	}
	return resolveScope(text)
}

// scan searches the raw text for neighborhood names, aliases and scope labels.
// It succeeds only when exactly one label is found.
func (p *ResponseParser) scan(raw string) (ClassificationResult, bool) {
	work := raw
	for _, ph := range p.ignore {
		work = mask(work, ph.find(work))
	}

	var labels []string
	matched := make(map[string]string)
	for _, lp := range p.patterns {
		locs := lp.find(work)
		if len(locs) == 0 {
			continue
		}
		if _, ok := matched[lp.label]; !ok {
			labels = append(labels, lp.label)
			matched[lp.label] = work[locs[0][0]:locs[0][1]]
		}
		work = mask(work, locs)
	}

	if len(labels) != 1 {
		if len(labels) > 1 {
			debugLog("lenient scan ambiguous: %v", labels)
		}
		return ClassificationResult{}, false
	}

	label := labels[0]
	return ClassificationResult{
		Label:      label,
		Confidence: lenientConfidence,
		Rationale:  fmt.Sprintf("lenient match on %q; response was not valid JSON", matched[label]),
	}, true
}

// finish enforces the output invariants on a result
func (p *ResponseParser) finish(r ClassificationResult) ClassificationResult {
	if !p.catalog.IsValidLabel(r.Label) {
		r.Label = ScopeUnknown
		r.Confidence = 0
	}
	r.Confidence = clampConfidence(r.Confidence)
	if p.maxRationale > 0 {
		r.Rationale = truncateRunes(r.Rationale, p.maxRationale)
	}
	return r
}

// extractObjects returns the top-level balanced {...} spans of text in
// order, honoring JSON strings inside them. A trailing unbalanced object falls
// back to the span from its '{' to the last '}'.
func extractObjects(text string) []string {
	var out []string
	start, depth := -1, 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = depth > 0
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
			}
		}
	}

	if depth > 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			out = append(out, text[start:end+1])
		}
	}
	return out
}

func lowerKeys(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeConfidence accepts numbers, numeric strings and percentages; anything
// else counts as missing
func decodeConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	s, ok := decodeString(raw)
	if !ok {
		return 0
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0
		}
		return v / 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func joinRationale(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}

// mask blanks the given byte ranges of s, keeping every other offset in place
func mask(s string, locs [][]int) string {
	if len(locs) == 0 {
		return s
	}
	b := []byte(s)
	for _, loc := range locs {
		for i := loc[0]; i < loc[1]; i++ {
			b[i] = ' '
		}
	}
	return string(b)
}
