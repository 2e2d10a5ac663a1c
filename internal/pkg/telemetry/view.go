package telemetry

import (
	"sort"
	"strings"
)

const roomMarker = "room"

// MergeView concatenates doors, buttons and sorted radar units into the
// dashboard order. Inputs are not modified.
func MergeView(doors, buttons, radar []Device) []Device {
	view := make([]Device, 0, len(doors)+len(buttons)+len(radar))
	view = append(view, doors...)
	view = append(view, buttons...)
	view = append(view, SortRadar(radar)...)
	return view
}

// SortRadar returns a copy of radar ordered with room units first, then by
// the number embedded in the device id. Equal keys keep their input order.
func SortRadar(radar []Device) []Device {
	sorted := make([]Device, len(radar))
	copy(sorted, radar)

	sort.SliceStable(sorted, func(i, j int) bool {
		roomI := strings.Contains(sorted[i].DeviceID, roomMarker)
		roomJ := strings.Contains(sorted[j].DeviceID, roomMarker)
		if roomI != roomJ {
			return roomI
		}
		return DigitsOf(sorted[i].DeviceID) < DigitsOf(sorted[j].DeviceID)
	})
	return sorted
}

// Search keeps devices whose router id contains term, or whose address or
// uid contains it ignoring case. An empty term keeps everything.
func Search(devices []Device, term string) []Device {
	if term == "" {
		return devices
	}

	lower := strings.ToLower(term)
	matched := []Device{}
	for _, d := range devices {
		if strings.Contains(d.RouterID, term) || strings.Contains(strings.ToLower(d.SearchID()), lower) {
			matched = append(matched, d)
		}
	}
	return matched
}

type Filter struct {
	RouterID string
	Class    Class
}

func (f Filter) Apply(devices []Device) []Device {
	if f.RouterID == "" && f.Class == "" {
		return devices
	}

	kept := []Device{}
	for _, d := range devices {
		if f.RouterID != "" && d.RouterID != f.RouterID {
			continue
		}
		if f.Class != "" && d.Class != f.Class {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
