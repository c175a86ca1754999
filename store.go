package main

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// Output columns appended to every input row
const (
	ColumnNeighborhood = "neighborhood"
	ColumnConfidence   = "confidence"
	ColumnRationale    = "rationale"
)

var resultColumns = []string{ColumnNeighborhood, ColumnConfidence, ColumnRationale}

// Dataset is an ordered, validated input table
type Dataset struct {
	Source  string
	Header  []string
	Records []Record
}

// ReadDataset reads the input CSV at path
func ReadDataset(path string, cols ColumnSettings) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataError{Source: path, Err: err}
	}
	defer f.Close()

	return ParseDataset(path, f, cols)
}

// ParseDataset reads input records from r. Every record needs a non-empty id
// that is unique in the dataset.
func ParseDataset(source string, r io.Reader, cols ColumnSettings) (*Dataset, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, dataErrorf(source, "empty dataset")
	}
	if err != nil {
		return nil, &DataError{Source: source, Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	idx := columnIndex(header)
	idCol, ok := idx[strings.ToLower(cols.ID)]
	if !ok {
		return nil, dataErrorf(source, "missing id column %q", cols.ID)
	}
	titleCol, ok := idx[strings.ToLower(cols.Title)]
	if !ok {
		return nil, dataErrorf(source, "missing title column %q", cols.Title)
	}
	bodyCol, ok := idx[strings.ToLower(cols.Body)]
	if !ok {
		return nil, dataErrorf(source, "missing body column %q", cols.Body)
	}
	tagsCol, hasTags := idx[strings.ToLower(cols.Tags)]
	categoriesCol, hasCategories := idx[strings.ToLower(cols.Categories)]

	for _, name := range resultColumns {
		if _, clash := idx[name]; clash {
			return nil, dataErrorf(source, "input already has a %q column", name)
		}
	}

	ds := &Dataset{Source: source, Header: header}
	seen := make(map[string]int)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataError{Source: source, Err: err}
		}

		id := strings.TrimSpace(row[idCol])
		if id == "" {
			return nil, dataErrorf(source, "row %d has an empty id", line)
		}
		if first, dup := seen[id]; dup {
			return nil, dataErrorf(source, "duplicate id %s on rows %d and %d", id, first, line)
		}
		seen[id] = line

		rec := Record{
			ID:     id,
			Title:  row[titleCol],
			Body:   row[bodyCol],
			Values: row,
		}
		if hasTags && cols.Tags != "" {
			rec.Tags = row[tagsCol]
		}
		if hasCategories && cols.Categories != "" {
			rec.Categories = row[categoriesCol]
		}
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// OutputHeader returns the input header followed by the result columns
func OutputHeader(header []string) []string {
	out := make([]string, 0, len(header)+len(resultColumns))
	out = append(out, header...)
	return append(out, resultColumns...)
}

// WriteOutput atomically writes the classified dataset to path
func WriteOutput(path string, header []string, rows []ResultRow) error {
	return newAtomicWriter().WriteFile(path, func(w io.Writer) error {
		return writeCSV(w, header, rows)
	})
}

func writeCSV(w io.Writer, header []string, rows []ResultRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OutputHeader(header)); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, 0, len(row.Values)+len(resultColumns))
		record = append(record, row.Values...)
		record = append(record, row.Result.Label, formatConfidence(row.Result.Confidence), row.Result.Rationale)
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}
