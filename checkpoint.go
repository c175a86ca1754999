package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

const checkpointVersion = 1

// CheckpointStore persists run progress
type CheckpointStore interface {
	// Load returns the saved state, or nil when no checkpoint exists
	Load() (*RunState, error)
	// Save durably replaces the saved state
	Save(state *RunState) error
}

type checkpointDocument struct {
	Version      int         `json:"version"`
	RunID        string      `json:"run_id,omitempty"`
	Header       []string    `json:"header"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ProcessedIDs []string    `json:"processed_ids"`
	Rows         []ResultRow `json:"rows"`
}

// FileCheckpoint stores the full run state as a JSON snapshot, replaced
// atomically on every save
type FileCheckpoint struct {
	path   string
	writer *atomicWriter
	now    func() time.Time
}

// NewFileCheckpoint creates a checkpoint store backed by path
func NewFileCheckpoint(path string) *FileCheckpoint {
	return &FileCheckpoint{path: path, writer: newAtomicWriter(), now: time.Now}
}

// Path returns the checkpoint file location
func (c *FileCheckpoint) Path() string {
	return c.path
}

func (c *FileCheckpoint) Load() (*RunState, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &DataError{Source: c.path, Err: err}
	}

	var doc checkpointDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dataErrorf(c.path, "parsing checkpoint: %v", err)
	}
	if doc.Version != checkpointVersion {
		return nil, dataErrorf(c.path, "unsupported checkpoint version %d", doc.Version)
	}
	if len(doc.ProcessedIDs) != len(doc.Rows) {
		return nil, dataErrorf(c.path, "checkpoint lists %d processed ids but %d rows", len(doc.ProcessedIDs), len(doc.Rows))
	}

	state, err := restoreRunState(doc.Header, doc.Rows)
	if err != nil {
		return nil, dataErrorf(c.path, "invalid checkpoint: %v", err)
	}
	state.RunID = doc.RunID
	for _, id := range doc.ProcessedIDs {
		if !state.Processed(id) {
			return nil, dataErrorf(c.path, "processed id %s has no result row", id)
		}
	}
	return state, nil
}

func (c *FileCheckpoint) Save(state *RunState) error {
	doc := checkpointDocument{
		Version:      checkpointVersion,
		RunID:        state.RunID,
		Header:       state.Header,
		UpdatedAt:    c.now().UTC(),
		ProcessedIDs: state.ProcessedIDs(),
		Rows:         state.Rows,
	}
	if doc.Rows == nil {
		doc.Rows = []ResultRow{}
	}

	err := c.writer.WriteFile(c.path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&doc)
	})
	if err != nil {
		return &CheckpointWriteError{Path: c.path, Err: err}
	}
	return nil
}

// checkCompatible verifies that a loaded checkpoint belongs to a dataset with header
func checkCompatible(source string, state *RunState, header []string) error {
	if len(state.Header) != len(header) {
		return dataErrorf(source, "checkpoint has %d columns, input has %d; was it made from a different dataset?", len(state.Header), len(header))
	}
	for i := range header {
		if state.Header[i] != header[i] {
			return dataErrorf(source, "checkpoint column %d is %q, input has %q", i+1, state.Header[i], header[i])
		}
	}
	return nil
}

var _ CheckpointStore = (*FileCheckpoint)(nil)

func (c *FileCheckpoint) String() string {
	return fmt.Sprintf("FileCheckpoint(%s)", c.path)
}
