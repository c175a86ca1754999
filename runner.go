package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunnerOptions tune the batch loop
type RunnerOptions struct {
	// CheckpointInterval is the number of newly processed records between flushes
	CheckpointInterval int
	// MaxAttempts bounds the calls made for one record on transient errors
	MaxAttempts int
	RetryDelay  time.Duration
	PacingDelay time.Duration
}

// RunnerOptionsFromSettings maps settings onto runner options
func RunnerOptionsFromSettings(s *Settings) RunnerOptions {
	return RunnerOptions{
		CheckpointInterval: s.CheckpointInterval,
		MaxAttempts:        s.MaxRetries,
		RetryDelay:         s.RetryDelay,
		PacingDelay:        s.PacingDelay,
	}
}

// Runner drives records through the classifier and parser sequentially,
// checkpointing progress so an interrupted run can resume
type Runner struct {
	classifier Classifier
	parser     *ResponseParser
	store      CheckpointStore
	opts       RunnerOptions
	pacer      *Pacer
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewRunner creates a runner
func NewRunner(classifier Classifier, parser *ResponseParser, store CheckpointStore, opts RunnerOptions) *Runner {
	if opts.CheckpointInterval < 1 {
		opts.CheckpointInterval = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Runner{
		classifier: classifier,
		parser:     parser,
		store:      store,
		opts:       opts,
		pacer:      NewPacer(opts.PacingDelay),
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// LoadState returns the checkpointed state for a dataset, or a fresh one
func (r *Runner) LoadState(source string, header []string) (*RunState, error) {
	state, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewRunState(header)
		state.RunID = uuid.NewString()
		log.Printf("Starting run %s", state.RunID)
		return state, nil
	}
	if err := checkCompatible(source, state, header); err != nil {
		return nil, err
	}
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	log.Printf("Resuming run %s with %d records already processed", state.RunID, state.Len())
	return state, nil
}

// Run classifies every record not yet in state, in input order. It returns
// after a final flush, either on completion, on a fatal service error, or on
// cancellation of ctx.
func (r *Runner) Run(ctx context.Context, records []Record, state *RunState) (*RunSummary, error) {
	summary := &RunSummary{RunID: state.RunID, Total: len(records), Labels: make(map[string]int), Started: r.now()}
	sinceFlush := 0

	finish := func(runErr error) (*RunSummary, error) {
		if err := r.flush(state); err != nil {
			runErr = errors.Join(runErr, err)
		}
		for _, row := range state.Ordered(records) {
			summary.Labels[row.Result.Label]++
			summary.bucket(row.Result.Confidence)
		}
		summary.Finished = r.now()
		return summary, runErr
	}

	for i, record := range records {
		if state.Processed(record.ID) {
			summary.Skipped++
			continue
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			return finish(fmt.Errorf("%w: %v", errInterrupted, ctx.Err()))
		}

		log.Printf("[%d/%d] Processing: %s", i+1, len(records), displayTitle(record))
		row, outcome, err := r.step(ctx, record)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				summary.Interrupted = true
				log.Printf("✗ Interrupted at %s", record.ID)
			} else {
				log.Printf("✗ Stopping at %s: %v", record.ID, err)
			}
			return finish(err)
		}

		state.Add(row)
		summary.tally(outcome, row.Result)
		log.Printf("  → %s (confidence: %.2f)", row.Result.Label, row.Result.Confidence)

		sinceFlush++
		if sinceFlush >= r.opts.CheckpointInterval {
			if err := r.flush(state); err != nil {
				return finish(err)
			}
			sinceFlush = 0
		}
	}

	return finish(nil)
}

// stepOutcome says how a record reached its terminal state
type stepOutcome int

const (
	outcomeParsed stepOutcome = iota
	outcomeEmpty
	outcomeExhausted
	outcomeRejected
)

// step takes one record from in_flight to a terminal state. Only fatal
// service errors and cancellation are returned as errors.
func (r *Runner) step(ctx context.Context, record Record) (ResultRow, stepOutcome, error) {
	row := ResultRow{ID: record.ID, Values: record.Values, Status: StatusInFlight}

	if strings.TrimSpace(record.Title) == "" && strings.TrimSpace(record.Body) == "" {
		log.Printf("  Skipping classification of %s: no title or content", record.ID)
		row.Status = StatusClassified
		row.Result = ClassificationResult{Label: ScopeUnknown, Confidence: 0, Rationale: "no title or content"}
		return row, outcomeEmpty, nil
	}

	raw, attempts, err := r.classify(ctx, record)
	switch {
	case err == nil:
		row.Status = StatusClassified
		row.Result = r.parser.Parse(raw)
		return row, outcomeParsed, nil
	case ctx.Err() != nil:
		return row, 0, fmt.Errorf("%w: %v", errInterrupted, ctx.Err())
	case IsFatal(err):
		return row, 0, err
	case errors.Is(err, ErrRequestRejected):
		log.Printf("  ✗ Request rejected: %v", err)
		row.Status = StatusFailedPermanent
		row.Result = r.failure(fmt.Sprintf("request rejected: %v", err))
		return row, outcomeRejected, nil
	default:
		log.Printf("  ✗ Giving up after %d attempts: %v", attempts, err)
		row.Status = StatusClassified
		row.Result = r.failure(fmt.Sprintf("service error after %d attempts: %v", attempts, err))
		return row, outcomeExhausted, nil
	}
}

// classify calls the classifier, retrying transient failures with a fixed delay
func (r *Runner) classify(ctx context.Context, record Record) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return "", attempt - 1, err
		}

		raw, err := r.classifier.Classify(ctx, record)
		if err == nil {
			return raw, attempt, nil
		}
		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}
		if IsFatal(err) || errors.Is(err, ErrRequestRejected) {
			return "", attempt, err
		}

		lastErr = err
		if attempt < r.opts.MaxAttempts {
			log.Printf("  ↻ Attempt %d/%d failed: %v", attempt, r.opts.MaxAttempts, err)
			if err := r.sleep(ctx, r.opts.RetryDelay); err != nil {
				return "", attempt, err
			}
		}
	}
	return "", r.opts.MaxAttempts, lastErr
}

// failure builds the low-confidence result recorded for a record the service could not classify
func (r *Runner) failure(reason string) ClassificationResult {
	return r.parser.finish(ClassificationResult{Label: ScopeUnknown, Confidence: 0, Rationale: reason})
}

func (r *Runner) flush(state *RunState) error {
	if err := r.store.Save(state); err != nil {
		log.Printf("✗ Failed to save progress: %v", err)
		return err
	}
	log.Printf("Progress saved to %s (%d rows)", storeName(r.store), state.Len())
	return nil
}

func (s *RunSummary) tally(outcome stepOutcome, result ClassificationResult) {
	switch outcome {
	case outcomeEmpty:
		s.Empty++
	case outcomeExhausted, outcomeRejected:
		s.Failed++
	default:
		if result.Label == ScopeUnknown {
			s.Unknown++
		} else {
			s.Classified++
		}
	}
}

func (s *RunSummary) bucket(confidence float64) {
	switch {
	case confidence < 0.5:
		s.BucketBelow50++
	case confidence < 0.7:
		s.Bucket50to70++
	case confidence < 0.9:
		s.Bucket70to90++
	default:
		s.Bucket90Plus++
	}
}

// Processed returns the number of records handled in this run
func (s *RunSummary) Processed() int {
	return s.Classified + s.Unknown + s.Failed + s.Empty
}

func displayTitle(record Record) string {
	title := strings.TrimSpace(record.Title)
	if title == "" {
		return "Untitled"
	}
	return truncateRunes(title, 50)
}

func storeName(store CheckpointStore) string {
	if fc, ok := store.(*FileCheckpoint); ok {
		return fc.Path()
	}
	if named, ok := store.(fmt.Stringer); ok {
		return named.String()
	}
	return "checkpoint"
}
