package parking

// Match returns the slots whose capacity accommodates v, preserving the
// input order. An empty result is not an error.
func Match(v Vehicle, slots []Slot) []Slot {
	fits := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Fits(v) {
			fits = append(fits, s)
		}
	}
	return fits
}
