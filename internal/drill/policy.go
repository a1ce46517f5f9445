package drill

import (
	"time"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
)

// computeMetrics derives the recovery metrics for a drill. RTO is the restore
// step's wall-clock duration in seconds, not the whole drill's. RPO is the
// elapsed time between the backup capture and now, in minutes, clamped to be
// non-negative.
func computeMetrics(capturedAt, now time.Time, rto time.Duration) Metrics {
	rpo := now.Sub(capturedAt).Minutes()
	if rpo < 0 {
		rpo = 0
	}
	return Metrics{
		RTOSeconds: rto.Seconds(),
		RPOMinutes: rpo,
	}
}

// enforcePolicies compares the measured metrics against the manifest's
// declared objectives. Thresholds are optional and independently nullable;
// metrics are reported either way. A breach is a PolicyViolationError, the
// one taxonomy member that means the drill itself succeeded.
func enforcePolicies(metrics Metrics, policy manifest.PolicySpec) (map[string]any, error) {
	details := map[string]any{
		"rpo_minutes": metrics.RPOMinutes,
		"rto_seconds": metrics.RTOSeconds,
	}
	if policy.MaxRPOMinutes != nil {
		details["max_rpo_minutes"] = *policy.MaxRPOMinutes
	}
	if policy.MaxRTOSeconds != nil {
		details["max_rto_seconds"] = *policy.MaxRTOSeconds
	}

	rpoBreached := policy.MaxRPOMinutes != nil && metrics.RPOMinutes > *policy.MaxRPOMinutes
	rtoBreached := policy.MaxRTOSeconds != nil && metrics.RTOSeconds > *policy.MaxRTOSeconds
	if rpoBreached || rtoBreached {
		return nil, &PolicyViolationError{
			RPOMinutes:    metrics.RPOMinutes,
			RTOSeconds:    metrics.RTOSeconds,
			MaxRPOMinutes: policy.MaxRPOMinutes,
			MaxRTOSeconds: policy.MaxRTOSeconds,
		}
	}
	return details, nil
}
