package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const storeVersion = 1

// Store keeps an append-only snapshot history per symbol.
// When opened with a path, every Append rewrites the whole store to disk as a
// zstd-compressed blob. Snapshots returned by the store must be treated as
// read-only.
type Store struct {
	mu         sync.RWMutex
	history    map[string][]Snapshot
	path       string
	maxHistory int
	logger     *zap.Logger
}

type storeFile struct {
	Version   int                   `json:"version"`
	Snapshots map[string][]Snapshot `json:"snapshots"`
}

// NewMemoryStore returns a store that is never persisted.
func NewMemoryStore(logger *zap.Logger) *Store {
	return &Store{
		history: make(map[string][]Snapshot),
		logger:  logger,
	}
}

// OpenStore loads the store at path, or starts empty if the file does not exist.
// maxHistory bounds the snapshots retained per symbol (0 keeps everything).
func OpenStore(path string, maxHistory int, logger *zap.Logger) (*Store, error) {
	s := &Store{
		history:    make(map[string][]Snapshot),
		path:       path,
		maxHistory: maxHistory,
		logger:     logger,
	}

	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no existing store, starting empty", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	history, err := decodeStore(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding store %s: %w", path, err)
	}
	s.history = history

	logger.Info("store loaded",
		zap.String("path", path),
		zap.Int("symbols", len(history)),
	)
	return s, nil
}

// HasSymbol reports whether at least one snapshot exists for symbol.
func (s *Store) HasSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[symbol]) > 0
}

// Current returns the most recently appended snapshot for symbol.
func (s *Store) Current(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[symbol]
	if len(h) == 0 {
		return Snapshot{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of the ordered snapshot history for symbol.
func (s *Store) History(symbol string) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[symbol]
	out := make([]Snapshot, len(h))
	copy(out, h)
	return out
}

// Symbols returns every known symbol, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.history))
	for sym := range s.history {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Seed registers symbols to be tracked before any snapshot exists for them.
func (s *Store) Seed(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := s.history[sym]; !ok {
			s.history[sym] = nil
		}
	}
}

// Append adds snap to the symbol's history and persists the store.
// The in-memory append always succeeds; a returned error means only the
// durable write failed.
func (s *Store) Append(symbol string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[symbol], snap)
	if s.maxHistory > 0 && len(h) > s.maxHistory {
		h = append([]Snapshot(nil), h[len(h)-s.maxHistory:]...)
	}
	s.history[symbol] = h

	if s.path == "" {
		return nil
	}
	if err := s.persist(); err != nil {
		s.logger.Warn("failed to persist store", zap.String("path", s.path), zap.Error(err))
		return err
	}
	return nil
}

// persist must be called with the write lock held.
func (s *Store) persist() error {
	blob, err := encodeStore(s.history)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	// Atomic rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, blob, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func encodeStore(history map[string][]Snapshot) ([]byte, error) {
	raw, err := json.Marshal(storeFile{Version: storeVersion, Snapshots: history})
	if err != nil {
		return nil, fmt.Errorf("marshal store: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), nil
}

func decodeStore(blob []byte) (map[string][]Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if f.Version != storeVersion {
		return nil, fmt.Errorf("unsupported store version %d", f.Version)
	}
	if f.Snapshots == nil {
		f.Snapshots = make(map[string][]Snapshot)
	}
	return f.Snapshots, nil
}
