package export

import (
	"fmt"
	"path/filepath"
)

// Kind selects what an export file holds.
type Kind string

const (
	// KindChain is every stored snapshot of the day, one per line.
	KindChain Kind = "chain"
	// KindExposure is the strike-mode summary of each snapshot, one per line.
	KindExposure Kind = "exposure"
)

// Kinds lists every export kind in output order.
var Kinds = []Kind{KindChain, KindExposure}

// ParseKind validates an export kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindChain, KindExposure:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("invalid export kind %q (expected chain or exposure)", s)
	}
}

type Task struct {
	Symbol string
	Kind   Kind
	Date   string
}

// RelPath is the file location relative to the export root.
func (t Task) RelPath() string {
	return filepath.Join(t.Date, t.Symbol, string(t.Kind)+".jsonl.zst")
}

func (t Task) OutputPath(baseDir string) string {
	return filepath.Join(baseDir, t.RelPath())
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Date, t.Symbol, t.Kind)
}

type TaskResult struct {
	Task      Task
	Success   bool
	Skipped   bool
	NotFound  bool
	Records   int
	BytesSize int64
	Error     error
}
