package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
)

// maxErrorLines caps how many per-symbol errors a failure message spells out.
const maxErrorLines = 3

// FormatFailureMessage summarizes a refresh cycle that had failed symbols.
func FormatFailureMessage(result refresh.CycleResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Refreshed %d of %d symbols in %s\n",
		len(result.Refreshed), result.Total(), result.Duration().Round(time.Second))

	failed := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		failed[i] = e.Symbol
	}
	fmt.Fprintf(&sb, "Failed: %s", strings.Join(failed, ", "))

	if len(result.Errors) == 0 {
		return sb.String()
	}

	sb.WriteString("\n")
	for i, e := range result.Errors {
		if i == maxErrorLines {
			fmt.Fprintf(&sb, "\n(%d more not shown)", len(result.Errors)-maxErrorLines)
			break
		}
		fmt.Fprintf(&sb, "\n%s: %v", e.Symbol, e.Err)
	}
	return sb.String()
}

// FormatRecoveryMessage is sent once refreshes succeed again.
func FormatRecoveryMessage(result refresh.CycleResult) string {
	msg := fmt.Sprintf("All %d symbols refreshed in %s", len(result.Refreshed), result.Duration().Round(time.Second))
	if result.NextWait > 0 {
		msg += fmt.Sprintf(", next cycle in %s", result.NextWait.Round(time.Minute))
	}
	return msg
}
