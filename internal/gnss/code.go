package gnss

import (
	"fmt"
	"math"
)

// g2Delay is the G2 register delay (chips) per GPS PRN, IS-GPS-200 table 3-Ia.
var g2Delay = [NumGpsPRN]int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
	252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
	473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
	861, 862,
}

// CACode returns the 1023-chip C/A code of prn as +1/-1 values.
func CACode(prn int) ([]int8, error) {
	if prn < 1 || prn > NumGpsPRN {
		return nil, fmt.Errorf("prn %d outside 1..%d", prn, NumGpsPRN)
	}

	var r1, r2 [10]int8
	for i := range r1 {
		r1[i] = -1
		r2[i] = -1
	}
	var g1, g2 [CACodeLength]int8
	for i := 0; i < CACodeLength; i++ {
		g1[i] = r1[9]
		g2[i] = r2[9]
		c1 := r1[2] * r1[9]
		c2 := r2[1] * r2[2] * r2[5] * r2[7] * r2[8] * r2[9]
		for j := 9; j > 0; j-- {
			r1[j] = r1[j-1]
			r2[j] = r2[j-1]
		}
		r1[0] = c1
		r2[0] = c2
	}

	code := make([]int8, CACodeLength)
	j := CACodeLength - g2Delay[prn-1]
	for i := 0; i < CACodeLength; i++ {
		code[i] = -g1[i] * g2[j%CACodeLength]
		j++
	}
	return code, nil
}

// CACodes returns the C/A codes of PRN 1..32, index 0 holding PRN 1.
func CACodes() [NumGpsPRN][]int8 {
	var out [NumGpsPRN][]int8
	for i := range out {
		out[i], _ = CACode(i + 1)
	}
	return out
}

// CodeNCO upsamples code to n samples at sampFreq, starting at remPhase
// chips. It returns the replica and the code phase (chips, wrapped to the
// code length) following the last sample.
func CodeNCO(code []int8, codeFreq, sampFreq, remPhase float64, n int) ([]complex128, float64) {
	out := make([]complex128, n)
	if len(code) == 0 || n <= 0 {
		return out, remPhase
	}
	length := float64(len(code))
	step := codeFreq / sampFreq
	phase := math.Mod(remPhase, length)
	if phase < 0 {
		phase += length
	}
	for i := 0; i < n; i++ {
		idx := int(phase)
		if idx >= len(code) {
			idx -= len(code)
		}
		out[i] = complex(float64(code[idx]), 0)
		phase += step
		if phase >= length {
			phase -= length
		}
	}
	return out, phase
}
