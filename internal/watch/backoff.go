package watch

import "time"

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultDebounce     = 100 * time.Millisecond
	maxBackoff          = 30 * time.Second
)

// calculateBackoff doubles the base interval for every consecutive failure,
// capped at limit.
func calculateBackoff(failures int, base, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = maxBackoff
	}
	if failures <= 0 {
		return base
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
