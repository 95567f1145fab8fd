package fleet

// LoadFactor returns the expected share of capacity occupied at hour (0-23).
// Demand peaks in the morning and evening rush windows and bottoms out overnight.
func LoadFactor(hour int) float64 {
	hour = ((hour % 24) + 24) % 24
	switch {
	case hour >= 7 && hour <= 9:
		return 0.95
	case hour >= 17 && hour <= 19:
		return 0.92
	case hour >= 10 && hour <= 16:
		return 0.70
	case hour >= 20 && hour <= 23:
		return 0.50
	default:
		return 0.25
	}
}
