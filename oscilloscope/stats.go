package oscilloscope

import "gonum.org/v1/gonum/floats"

// Limits returns the smallest and largest values in physical data
func Limits(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return floats.Min(data), floats.Max(data)
}

// PeakToPeak returns the amplitude span of physical data, the same
// metric the scope reports for a VPP measurement
func PeakToPeak(data []float64) float64 {
	min, max := Limits(data)
	return max - min
}
