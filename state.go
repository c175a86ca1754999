package main

import "fmt"

// RunState is the resumable progress of a run: the processed ids and the
// results accumulated so far, in the order they reached a terminal state.
// It is owned by a single Runner.
type RunState struct {
	// RunID identifies the run across resumes
	RunID  string
	Header []string
	Rows   []ResultRow
	index  map[string]int
}

// NewRunState creates an empty state for a dataset with the given header
func NewRunState(header []string) *RunState {
	h := make([]string, len(header))
	copy(h, header)
	return &RunState{Header: h, index: make(map[string]int)}
}

// restoreRunState rebuilds a state from persisted rows, checking their shape
func restoreRunState(header []string, rows []ResultRow) (*RunState, error) {
	s := NewRunState(header)
	for i, row := range rows {
		if row.ID == "" {
			return nil, fmt.Errorf("row %d has an empty id", i+1)
		}
		if len(row.Values) != len(header) {
			return nil, fmt.Errorf("row %s has %d values, header has %d", row.ID, len(row.Values), len(header))
		}
		if _, dup := s.index[row.ID]; dup {
			return nil, fmt.Errorf("duplicate id %s", row.ID)
		}
		s.Add(row)
	}
	return s, nil
}

// Processed reports whether id already reached a terminal state
func (s *RunState) Processed(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add records a terminal row. Adding an id twice replaces the earlier result.
func (s *RunState) Add(row ResultRow) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[row.ID]; ok {
		s.Rows[i] = row
		return
	}
	s.index[row.ID] = len(s.Rows)
	s.Rows = append(s.Rows, row)
}

// Get returns the row recorded for id
func (s *RunState) Get(id string) (ResultRow, bool) {
	i, ok := s.index[id]
	if !ok {
		return ResultRow{}, false
	}
	return s.Rows[i], true
}

// Len returns the number of processed records
func (s *RunState) Len() int {
	return len(s.Rows)
}

// ProcessedIDs returns the processed ids in state order
func (s *RunState) ProcessedIDs() []string {
	ids := make([]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		ids = append(ids, row.ID)
	}
	return ids
}

// Ordered returns the processed rows in the order of records. Records that
// are not processed yet are left out.
func (s *RunState) Ordered(records []Record) []ResultRow {
	out := make([]ResultRow, 0, len(records))
	for _, r := range records {
		if row, ok := s.Get(r.ID); ok {
			out = append(out, row)
		}
	}
	return out
}

// Clone returns a deep copy, safe to hand to a checkpoint store
func (s *RunState) Clone() *RunState {
	c := NewRunState(s.Header)
	c.RunID = s.RunID
	for _, row := range s.Rows {
		values := make([]string, len(row.Values))
		copy(values, row.Values)
		row.Values = values
		c.Add(row)
	}
	return c
}
