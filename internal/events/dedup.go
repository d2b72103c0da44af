package events

// Dedup returns the events of current that have no equal event in previous.
// Both lists are small, so a nested scan is enough.
func Dedup(current, previous []Event) []Event {
	var fresh []Event
	for _, e := range current {
		seen := false
		for _, p := range previous {
			if e.Equal(p) {
				seen = true
				break
			}
		}
		if !seen {
			fresh = append(fresh, e)
		}
	}
	return fresh
}
