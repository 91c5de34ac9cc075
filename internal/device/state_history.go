package device

import (
	"context"
	"time"
)

// Where a recorded transition came from.
const (
	StateHistorySourceReport     = "report"
	StateHistorySourceReset      = "reset"
	StateHistorySourceConnection = "connection"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// StateHistoryEntry is one field transition of a device. Reset entries
// carry a nil Value: the reading was cleared on disconnect or unlock.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Field     string    `json:"field"`
	Channel   string    `json:"channel,omitempty"`
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery narrows GetHistory. Zero fields match everything; Limit is
// clamped to 1..MaxHistoryLimit with DefaultHistoryLimit when unset.
type HistoryQuery struct {
	Field   string
	Channel string
	Since   time.Time
	Limit   int
}

func (q HistoryQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return q.Limit
}

// StateHistoryRepository stores device transitions, newest first on read.
type StateHistoryRepository interface {
	RecordStateChange(ctx context.Context, entry StateHistoryEntry) error
	GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error)
}

// HistoryPruner deletes transitions older than a cutoff.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunHistoryRetention prunes entries older than keep once at start and then
// every interval until ctx is cancelled. keep <= 0 disables pruning.
func RunHistoryRetention(ctx context.Context, p HistoryPruner, keep, interval time.Duration, log Logger) {
	if keep <= 0 || interval <= 0 {
		return
	}
	if log == nil {
		log = noopLogger{}
	}

	prune := func() {
		n, err := p.PruneHistory(ctx, keep)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("state history prune failed", "error", err)
		case n > 0:
			log.Info("state history pruned", "deleted", n, "retention", keep.String())
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
