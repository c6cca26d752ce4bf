// Package detect finds R, P and T events, either sample by sample on a live
// stream or over a captured window.
package detect

import (
	"sort"
)

// FindPeaks returns the indices of local maxima in x that are at least
// distance samples apart and stand out by at least minProminence. Plateaus
// report their middle sample. When two peaks are closer than distance the
// taller one is kept. Indices are ascending.
func FindPeaks(x []float64, distance int, minProminence float64) []int {
	peaks := localMaxima(x)
	if len(peaks) == 0 {
		return []int{}
	}
	if distance < 1 {
		distance = 1
	}
	if distance > 1 {
		peaks = selectByDistance(x, peaks, distance)
	}
	kept := peaks[:0]
	for _, p := range peaks {
		if prominence(x, p) >= minProminence {
			kept = append(kept, p)
		}
	}
	return kept
}

func localMaxima(x []float64) []int {
	peaks := []int{}
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				left, right := i, ahead-1
				peaks = append(peaks, (left+right)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] < x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for j := len(order) - 1; j >= 0; j-- {
		i := order[j]
		if !keep[i] {
			continue
		}
		for k := i - 1; k >= 0 && peaks[i]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := i + 1; k < len(peaks) && peaks[k]-peaks[i] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// prominence is the height of the peak above the higher of the two minima
// found walking outward until a taller sample or the signal edge.
func prominence(x []float64, peak int) float64 {
	leftMin := x[peak]
	for i := peak; i >= 0 && x[i] <= x[peak]; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := x[peak]
	for i := peak; i < len(x) && x[i] <= x[peak]; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}
	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return x[peak] - base
}
