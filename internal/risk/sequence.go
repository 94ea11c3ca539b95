package risk

import (
	"regexp"
	"strings"
	"time"
)

// SequenceAnalyzer implements §4.3's optional sequence-analysis modifier:
// a lookback over recent command history for the same source/resource,
// adjusting the composite score by up to ±0.3·score. This is the Go
// counterpart of the original implementation's sequence_analyzer module,
// which tracked whether a destructive verb was preceded by a related
// read-only query on the same resource ID.
type SequenceAnalyzer interface {
	// Adjust returns a signed delta to add to the composite score, and a
	// human-readable note for the risk factor. baseScore is the
	// pre-adjustment composite score; the delta is bounded to ±0.3*baseScore
	// per §4.3. A zero delta means "no adjustment" and the caller omits the
	// factor entirely.
	Adjust(source, cmd, verbKind string, baseScore float64) (delta float64, note string)
}

// HistoryLookup is the subset of the audit trail the sequence analyzer
// needs. internal/store's Store satisfies this without either package
// importing the other's concrete types.
type HistoryLookup interface {
	RecentCommands(source string, since time.Time) ([]string, error)
}

// lookbackAnalyzer is the default SequenceAnalyzer, grounded on the
// original implementation's rule of thumb: describe-* before terminate-* is
// safe, terminate-* with no preceding query on the same resource is not.
type lookbackAnalyzer struct {
	history HistoryLookup
	window  time.Duration
}

// NewLookbackAnalyzer builds a SequenceAnalyzer backed by history. A zero
// window defaults to 15 minutes, matching the original's lookback.
func NewLookbackAnalyzer(history HistoryLookup, window time.Duration) SequenceAnalyzer {
	if window == 0 {
		window = 15 * time.Minute
	}
	return &lookbackAnalyzer{history: history, window: window}
}

var resourceIDRe = regexp.MustCompile(`\b(i-[0-9a-f]{8,17}|vol-[0-9a-f]{8,17}|sg-[0-9a-f]{8,17}|vpc-[0-9a-f]{8,17}|[A-Za-z0-9][A-Za-z0-9.\-]{2,62})\b`)

// extractResourceIDs pulls AWS-resource-shaped identifiers and bucket/table
// names out of a command, mirroring the original's extract_resource_ids.
func extractResourceIDs(cmd string) []string {
	matches := resourceIDRe.FindAllString(cmd, -1)
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			ids = append(ids, m)
		}
	}
	return ids
}

func (a *lookbackAnalyzer) Adjust(source, cmd, verbKind string, baseScore float64) (float64, string) {
	if a.history == nil || source == "" {
		return 0, ""
	}
	destructive := verbKind == "delete-" || verbKind == "terminate-" || verbKind == "revoke-" || verbKind == "remove-"
	if !destructive {
		return 0, ""
	}

	ids := extractResourceIDs(cmd)
	if len(ids) == 0 {
		return 0, ""
	}

	recent, err := a.history.RecentCommands(source, time.Now().Add(-a.window))
	if err != nil {
		return 0, ""
	}

	for _, prior := range recent {
		lower := strings.ToLower(prior)
		if !strings.Contains(lower, "describe-") && !strings.Contains(lower, "get-") && !strings.Contains(lower, "list-") {
			continue
		}
		for _, id := range ids {
			if strings.Contains(prior, id) {
				return -0.3 * baseScore, "preceded by a read query on the same resource within the lookback window"
			}
		}
	}

	return 0.3 * baseScore, "destructive verb with no preceding read query on the same resource"
}
