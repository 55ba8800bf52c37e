package scraper

import "log/slog"

// Reporter receives job progress (0-100) and human readable log lines.
type Reporter interface {
	Progress(percent float64)
	Log(msg string)
}

// NopReporter discards everything. Messages still reach slog at debug level.
type NopReporter struct{}

func (NopReporter) Progress(float64) {}

func (NopReporter) Log(msg string) { slog.Debug(msg) }

func reporterOrNop(r Reporter) Reporter {
	if r == nil {
		return NopReporter{}
	}
	return r
}

// ProgressPercent converts a page budget into a percentage for the page
// about to be fetched.
func ProgressPercent(total, remaining int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(total-remaining+1) * 100 / float64(total)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
