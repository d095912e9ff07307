// Package scheduling computes meeting availability from recurring
// weekly windows and calendar free/busy data. The two projections it
// produces are privacy-segregated: the AI-facing set derives from the
// windows alone, the UI-facing set is additionally filtered by
// calendar busy intervals. Busy data never reaches the AI-facing set.
package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// horizonDays is how far ahead candidate slots are generated.
	horizonDays = 7

	// DefaultDuration and DefaultBuffer are the slot length and the
	// gap kept between consecutive slots.
	DefaultDuration = 30 * time.Minute
	DefaultBuffer   = 15 * time.Minute

	// DefaultAdvanceNotice discards slots starting too soon.
	DefaultAdvanceNotice = 24 * time.Hour
)

// BusySource reports calendar busy intervals for an agent in a range.
type BusySource interface {
	BusyIntervals(ctx context.Context, agentID string, from, to time.Time) ([]models.BusyInterval, error)
}

// Options tunes a single availability computation.
type Options struct {
	AgentID       string
	Duration      time.Duration // slot length, default 30m
	Buffer        time.Duration // spacing between slots on top of duration, default 15m
	AdvanceNotice time.Duration // minimum lead time, default 24h
	OwnerTimezone string        // timezone for AI-facing date labels
	Now           time.Time     // zero means time.Now()
}

// Computer turns availability windows into candidate slots.
type Computer struct {
	busy BusySource
}

// NewComputer creates a computer. busy may be nil when no calendar is
// connected; UIFacing is then the unfiltered candidate set.
func NewComputer(busy BusySource) *Computer {
	return &Computer{busy: busy}
}

// Compute walks the 7-day horizon and produces both projections.
func (c *Computer) Compute(ctx context.Context, windows []models.AvailabilityWindow, opts Options) (*models.SlotSet, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	buffer := opts.Buffer
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	notice := opts.AdvanceNotice
	if notice <= 0 {
		notice = DefaultAdvanceNotice
	}

	earliest := now.Add(notice)

	var candidates []models.CandidateSlot
	for day := 0; day < horizonDays; day++ {
		for _, w := range windows {
			slots, err := slotsForDay(w, now, day, duration, buffer)
			if err != nil {
				log.Warn().Err(err).Str("window_id", w.ID).Msg("skipping malformed availability window")
				continue
			}
			for _, s := range slots {
				if s.Start.Before(earliest) {
					continue
				}
				candidates = append(candidates, s)
			}
		}
	}

	set := &models.SlotSet{
		AIFacing: groupForOwner(candidates, opts.OwnerTimezone),
		UIFacing: c.filterBusy(ctx, opts.AgentID, candidates, now),
	}
	return set, nil
}

// slotsForDay expands one window on (now + day) in the window's own
// timezone. A window whose weekday does not match contributes nothing.
func slotsForDay(w models.AvailabilityWindow, now time.Time, day int, duration, buffer time.Duration) ([]models.CandidateSlot, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", w.Timezone, err)
	}

	local := now.In(loc).AddDate(0, 0, day)
	if local.Weekday() != w.Weekday {
		return nil, nil
	}

	start, err := atClock(local, w.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("parse start %q: %w", w.Start, err)
	}
	end, err := atClock(local, w.End, loc)
	if err != nil {
		return nil, fmt.Errorf("parse end %q: %w", w.End, err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("window end %q not after start %q", w.End, w.Start)
	}

	var slots []models.CandidateSlot
	for cursor := start; !cursor.Add(duration).After(end); cursor = cursor.Add(duration + buffer) {
		slots = append(slots, models.CandidateSlot{Start: cursor, End: cursor.Add(duration)})
	}
	return slots, nil
}

// atClock pins an "HH:MM" clock time onto day's date in loc.
func atClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// groupForOwner buckets slot start times by local date in the owner's
// timezone, producing the prompt-safe projection.
func groupForOwner(candidates []models.CandidateSlot, ownerTZ string) []models.SlotGroup {
	loc, err := time.LoadLocation(ownerTZ)
	if err != nil || ownerTZ == "" {
		loc = time.UTC
	}

	var groups []models.SlotGroup
	index := map[string]int{}
	for _, s := range candidates {
		local := s.Start.In(loc)
		date := local.Format("Monday, 2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, models.SlotGroup{Date: date})
		}
		groups[i].Times = append(groups[i].Times, local.Format("15:04"))
	}
	return groups
}

// filterBusy removes candidates overlapping a busy interval. Any
// free/busy failure falls back to the unfiltered set: showing a slot
// the owner may decline beats showing nothing.
func (c *Computer) filterBusy(ctx context.Context, agentID string, candidates []models.CandidateSlot, now time.Time) []models.CandidateSlot {
	if c.busy == nil || len(candidates) == 0 {
		return candidates
	}

	busy, err := c.busy.BusyIntervals(ctx, agentID, now, now.AddDate(0, 0, horizonDays))
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("free/busy lookup failed, returning unfiltered slots")
		return candidates
	}

	var free []models.CandidateSlot
	for _, s := range candidates {
		if !overlapsAny(s, busy) {
			free = append(free, s)
		}
	}
	return free
}

// overlapsAny uses half-open interval intersection: [s.Start, s.End)
// against [b.Start, b.End).
func overlapsAny(s models.CandidateSlot, busy []models.BusyInterval) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}
