// Package export writes stored snapshot history to per-day JSON Lines files
// compressed with zstd.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
	"github.com/dgnsrekt/gexbot-engine/internal/staging"
)

const dateLayout = "2006-01-02"

// HistorySource returns the stored snapshots of a symbol, oldest first.
type HistorySource interface {
	History(symbol string) []data.Snapshot
}

type Manager struct {
	history    HistorySource
	aggregator *exposure.Aggregator
	staging    *staging.Area
	workers    int
	location   *time.Location
	logger     *zap.Logger
}

type BatchResult struct {
	Total    int
	Success  int
	Skipped  int
	NotFound int
	Failed   int
	Records  int
	Errors   []string
}

// NewManager creates an export manager. Snapshots are assigned to the
// calendar day of their fetch time in location.
func NewManager(history HistorySource, aggregator *exposure.Aggregator, staging *staging.Area, workers int, location *time.Location, logger *zap.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		history:    history,
		aggregator: aggregator,
		staging:    staging,
		workers:    workers,
		location:   location,
		logger:     logger,
	}
}

// GenerateTasks builds one task per date, symbol and kind.
func GenerateTasks(dates, symbols []string, kinds []Kind) []Task {
	tasks := make([]Task, 0, len(dates)*len(symbols)*len(kinds))
	for _, date := range dates {
		for _, symbol := range symbols {
			for _, kind := range kinds {
				tasks = append(tasks, Task{Symbol: data.NormalizeSymbol(symbol), Kind: kind, Date: date})
			}
		}
	}
	return tasks
}

func (m *Manager) Execute(ctx context.Context, tasks []Task) (*BatchResult, error) {
	result := &BatchResult{Total: len(tasks)}

	if len(tasks) == 0 {
		return result, nil
	}

	jobs := make(chan Task, len(tasks))
	results := make(chan TaskResult, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx, jobs, results)
		}()
	}

	// Send jobs
	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case jobs <- task:
			}
		}
	}()

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		switch {
		case r.Skipped:
			result.Skipped++
		case r.NotFound:
			result.NotFound++
		case r.Success:
			result.Success++
			result.Records += r.Records
		default:
			result.Failed++
			if r.Error != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Task, r.Error))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) worker(ctx context.Context, jobs <-chan Task, results chan<- TaskResult) {
	for task := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := m.processTask(ctx, task)

		select {
		case <-ctx.Done():
			return
		case results <- result:
		}
	}
}

func (m *Manager) processTask(ctx context.Context, task Task) TaskResult {
	result := TaskResult{Task: task}

	// Resume: promoted files are never rewritten
	if m.staging.Exists(task.RelPath()) {
		m.logger.Debug("skipping existing file", zap.String("task", task.String()))
		result.Skipped = true
		result.Success = true
		return result
	}

	snapshots := m.snapshotsOn(task.Symbol, task.Date)
	if len(snapshots) == 0 {
		m.logger.Debug("no snapshots", zap.String("task", task.String()))
		result.NotFound = true
		return result
	}

	records, err := m.records(ctx, task, snapshots)
	if err != nil {
		result.Error = err
		return result
	}

	size, err := m.staging.Write(ctx, task.RelPath(), &jsonlSource{records: records})
	if err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	result.Records = len(records)
	result.BytesSize = size
	m.logger.Info("exported",
		zap.String("task", task.String()),
		zap.Int("records", len(records)),
		zap.Int64("bytes", size),
	)

	return result
}

func (m *Manager) snapshotsOn(symbol, date string) []data.Snapshot {
	var day []data.Snapshot
	for _, snap := range m.history.History(symbol) {
		if snap.FetchedAt.In(m.location).Format(dateLayout) == date {
			day = append(day, snap)
		}
	}
	return day
}

func (m *Manager) records(ctx context.Context, task Task, snapshots []data.Snapshot) ([]any, error) {
	records := make([]any, 0, len(snapshots))
	switch task.Kind {
	case KindChain:
		for _, snap := range snapshots {
			records = append(records, snap)
		}
	case KindExposure:
		for _, snap := range snapshots {
			stats, _, err := m.aggregator.Compute(ctx, snap.Symbol, snap.Contracts, exposure.ModeStrike, exposure.Options{}, snap.FetchedAt)
			if err != nil {
				return nil, fmt.Errorf("summarizing snapshot at %s: %w", snap.FetchedAt.Format(time.RFC3339), err)
			}
			records = append(records, stats)
		}
	default:
		return nil, fmt.Errorf("invalid export kind %q", task.Kind)
	}
	return records, nil
}

// jsonlSource encodes records as zstd-compressed JSON Lines.
type jsonlSource struct {
	records []any
}

func (s *jsonlSource) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("create zstd encoder: %w", err)
	}

	enc := json.NewEncoder(zw)
	for _, r := range s.records {
		if err := enc.Encode(r); err != nil {
			zw.Close()
			return cw.n, fmt.Errorf("encoding record: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("flushing zstd stream: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ReadRecords decodes an export file into one raw JSON value per line.
func ReadRecords(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()

	var records []json.RawMessage
	dec := json.NewDecoder(zr)
	for {
		var r json.RawMessage
		err := dec.Decode(&r)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("decoding %s: %w", path, err)
		}
		records = append(records, r)
	}
}
