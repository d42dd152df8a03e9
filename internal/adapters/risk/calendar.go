// Package risk provides the macro/news risk signal from a static calendar.
package risk

import (
	"context"
	"sort"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Window applies a defense level between Start (inclusive) and End (exclusive).
type Window struct {
	Name         string
	Start        time.Time
	End          time.Time
	DefenseLevel int
	ScoreBias    float64
}

// Calendar implements ports.RiskProvider.
type Calendar struct {
	windows []Window
}

// NewCalendar builds a calendar; windows are kept sorted by start.
func NewCalendar(windows []Window) *Calendar {
	ws := make([]Window, len(windows))
	copy(ws, windows)
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })
	return &Calendar{windows: ws}
}

// RiskLevel returns the highest defense level among the windows covering
// date. With overlapping windows of the same level the larger bias wins.
// Outside every window it returns the normal level.
func (c *Calendar) RiskLevel(_ context.Context, date time.Time) (domain.RiskLevel, error) {
	level := domain.RiskLevel{DefenseLevel: domain.DefenseNormal}
	matched := false
	for _, w := range c.windows {
		if date.Before(w.Start) || !date.Before(w.End) {
			continue
		}
		if !matched || w.DefenseLevel > level.DefenseLevel ||
			(w.DefenseLevel == level.DefenseLevel && w.ScoreBias > level.ScoreBias) {
			level = domain.RiskLevel{DefenseLevel: w.DefenseLevel, ScoreBias: w.ScoreBias}
			matched = true
		}
	}
	return level, nil
}

// Active returns the names of the windows covering date.
func (c *Calendar) Active(date time.Time) []string {
	var names []string
	for _, w := range c.windows {
		if !date.Before(w.Start) && date.Before(w.End) {
			names = append(names, w.Name)
		}
	}
	return names
}
