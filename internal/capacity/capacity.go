// Package capacity classifies how close a target workspace would be to its
// storage quota after a hypothetical promotion.
package capacity

type Risk string

const (
	RiskSafe  Risk = "safe"
	RiskWarn  Risk = "warn"
	RiskBlock Risk = "block"
)

const (
	warnThreshold  = 0.95
	blockThreshold = 1.0
)

// Assessment is derived and ephemeral. It is computed fresh for each
// confirmation prompt and never cached.
type Assessment struct {
	UsedBytes           int64   `json:"usedBytes"`
	AllocatedBytes      int64   `json:"allocatedBytes"`
	EstimatedDeltaBytes int64   `json:"estimatedDeltaBytes"`
	ProjectedBytes      int64   `json:"projectedBytes"`
	ProjectedPct        float64 `json:"projectedPct"`
	Risk                Risk    `json:"risk"`
}

// Assess projects post-promotion usage. An unknown allocation (zero) always
// classifies Warn: unknown risk needs a human look but must not hard-block
// scripted runs.
func Assess(usedBytes, allocatedBytes, estimatedDeltaBytes int64) Assessment {
	a := Assessment{
		UsedBytes:           usedBytes,
		AllocatedBytes:      allocatedBytes,
		EstimatedDeltaBytes: estimatedDeltaBytes,
		ProjectedBytes:      usedBytes + estimatedDeltaBytes,
	}
	if allocatedBytes <= 0 {
		a.Risk = RiskWarn
		return a
	}
	a.ProjectedPct = float64(a.ProjectedBytes) / float64(allocatedBytes)
	switch {
	case a.ProjectedPct >= blockThreshold:
		a.Risk = RiskBlock
	case a.ProjectedPct >= warnThreshold:
		a.Risk = RiskWarn
	default:
		a.Risk = RiskSafe
	}
	return a
}
