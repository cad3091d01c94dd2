// Package util provides small numeric helpers shared across the strategies.
package util

import "math"

// FloorToStep rounds value down to the nearest multiple of step.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}

// CeilToStep rounds value up to the nearest multiple of step.
func CeilToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Ceil(value/step) * step
}

// RoundToStep rounds value to the nearest multiple of step.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Round(value/step) * step
}
