package main

import (
	"encoding/csv"
	"errors"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Rationale prefixes written by the legacy script when the API call failed.
// Such rows are left out of an import so they get classified again.
var legacyFailurePrefixes = []string{"API error:", "API parsing error:"}

// ImportLegacy converts a legacy progress CSV (input columns followed by
// neighborhood, confidence and rationale) into a run state. Labels are
// validated the same way model responses are.
func ImportLegacy(path string, idColumn string, parser *ResponseParser) (*RunState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataError{Source: path, Err: err}
	}
	defer f.Close()

	return parseLegacy(path, f, idColumn, parser)
}

func parseLegacy(source string, r io.Reader, idColumn string, parser *ResponseParser) (*RunState, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, dataErrorf(source, "empty progress file")
	}
	if err != nil {
		return nil, &DataError{Source: source, Err: err}
	}

	idx := columnIndex(header)
	idCol, ok := idx[strings.ToLower(idColumn)]
	if !ok {
		return nil, dataErrorf(source, "missing id column %q", idColumn)
	}
	resultIdx := make(map[int]string)
	for _, name := range resultColumns {
		i, ok := idx[name]
		if !ok {
			return nil, dataErrorf(source, "missing %q column; is this a progress file?", name)
		}
		resultIdx[i] = name
	}

	var inputHeader []string
	for i, name := range header {
		if _, isResult := resultIdx[i]; !isResult {
			inputHeader = append(inputHeader, name)
		}
	}

	state := NewRunState(inputHeader)
	state.RunID = uuid.NewString()
	redo := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataError{Source: source, Err: err}
		}

		id := strings.TrimSpace(row[idCol])
		if id == "" || state.Processed(id) {
			continue
		}

		var values []string
		var label, confidence, rationale string
		for i, v := range row {
			switch resultIdx[i] {
			case ColumnNeighborhood:
				label = v
			case ColumnConfidence:
				confidence = v
			case ColumnRationale:
				rationale = v
			default:
				values = append(values, v)
			}
		}

		if hasAnyPrefix(rationale, legacyFailurePrefixes) {
			redo++
			continue
		}

		state.Add(ResultRow{
			ID:     id,
			Values: values,
			Status: StatusClassified,
			Result: parser.legacyResult(label, confidence, rationale),
		})
	}

	log.Printf("Imported %d rows from %s (%d failed rows left for reclassification)", state.Len(), source, redo)
	return state, nil
}

// legacyResult validates a stored label the way a decoded response is validated
func (p *ResponseParser) legacyResult(label, confidence, rationale string) ClassificationResult {
	c, err := strconv.ParseFloat(strings.TrimSpace(confidence), 64)
	if err != nil {
		c = 0
	}
	result := ClassificationResult{Confidence: c, Rationale: strings.TrimSpace(rationale)}
	return p.finish(p.applyLabel(result, label))
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
