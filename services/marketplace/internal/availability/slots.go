package availability

import (
	"sort"
	"time"
)

const clockLayout = "15:04"

// DefaultSlots is the fixed fallback offered when a provider has no
// configured schedule. Booking requests are validated against this same set
// in that case, so the fallback is a real contract, not just a display hint.
var DefaultSlots = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}

// Window is a provider's working window for one weekday, in provider-local
// clock time.
type Window struct {
	Start       string // "09:00"
	End         string // "18:00"
	StepMinutes int    // slot length; 60 when zero
}

// SlotTimes expands a working window into ordered bookable HH:MM start
// times, skipping any that are already taken. A slot must fit entirely
// within the window.
func SlotTimes(win Window, taken []string) []string {
	start, err := time.Parse(clockLayout, win.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse(clockLayout, win.End)
	if err != nil {
		return nil
	}
	step := time.Duration(win.StepMinutes) * time.Minute
	if step <= 0 {
		step = time.Hour
	}
	if !end.After(start) {
		return nil
	}

	takenSet := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		takenSet[s] = struct{}{}
	}

	var slots []string
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		slot := t.Format(clockLayout)
		if _, busy := takenSet[slot]; busy {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

// Contains reports whether slot is one of slots.
func Contains(slots []string, slot string) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
