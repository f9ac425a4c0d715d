package orchestrator

import (
	"fmt"
	"time"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// DedupKeyStrategy computes the deduplicating job key for an automatic run.
// Manual runs never deduplicate and are keyed outside the strategy.
type DedupKeyStrategy interface {
	Key(stage domain.Stage, now time.Time) string
}

// FixedWindow collapses all automatic triggers for a stage inside the same
// wall-clock window onto one key. Windows are fixed buckets, not sliding:
// runs at 5:59 and 6:01 land in different windows despite being two minutes
// apart. Key equality is what keeps dedup race-free, so the boundary stands.
type FixedWindow struct {
	Window time.Duration
}

func (f FixedWindow) Key(stage domain.Stage, now time.Time) string {
	window := f.Window
	if window <= 0 {
		window = 6 * time.Hour
	}
	bucket := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("%s:auto:%d", stage, bucket)
}

func manualKey(stage domain.Stage, now time.Time) string {
	return fmt.Sprintf("%s:manual:%d", stage, now.UnixMilli())
}
