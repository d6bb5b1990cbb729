// Package navtools converts between the Earth-fixed and local-level frames
// used by the navigator.
package navtools

import (
	"math"

	"github.com/rjboer/GoGNSS/internal/gnss"
)

// LLA2ECEF converts geodetic latitude/longitude (rad) and height (m) to ECEF.
func LLA2ECEF(lla [3]float64) [3]float64 {
	sinLat, cosLat := math.Sincos(lla[0])
	sinLon, cosLon := math.Sincos(lla[1])
	n := gnss.WGS84R0 / math.Sqrt(1-gnss.WGS84E2*sinLat*sinLat)
	return [3]float64{
		(n + lla[2]) * cosLat * cosLon,
		(n + lla[2]) * cosLat * sinLon,
		(n*(1-gnss.WGS84E2) + lla[2]) * sinLat,
	}
}

// ECEF2LLA converts ECEF coordinates to geodetic latitude/longitude (rad) and
// height (m) by fixed-point iteration on latitude.
func ECEF2LLA(r [3]float64) [3]float64 {
	p := math.Hypot(r[0], r[1])
	lon := math.Atan2(r[1], r[0])
	if p < 1e-9 {
		lat := math.Copysign(math.Pi/2, r[2])
		return [3]float64{lat, lon, math.Abs(r[2]) - gnss.WGS84R0*math.Sqrt(1-gnss.WGS84E2)}
	}

	lat := math.Atan2(r[2], p*(1-gnss.WGS84E2))
	var h float64
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		n := gnss.WGS84R0 / math.Sqrt(1-gnss.WGS84E2*sinLat*sinLat)
		prevH := h
		h = p/math.Cos(lat) - n
		lat = math.Atan2(r[2], p*(1-gnss.WGS84E2*n/(n+h)))
		if math.Abs(h-prevH) < 1e-4 {
			break
		}
	}
	return [3]float64{lat, lon, h}
}

// ECEF2NEDDcm returns the rotation from ECEF to the north-east-down frame at
// the given geodetic position.
func ECEF2NEDDcm(lla [3]float64) [3][3]float64 {
	sinLat, cosLat := math.Sincos(lla[0])
	sinLon, cosLon := math.Sincos(lla[1])
	return [3][3]float64{
		{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		{-sinLon, cosLon, 0},
		{-cosLat * cosLon, -cosLat * sinLon, -sinLat},
	}
}

// ECEF2NEDv rotates an ECEF vector (e.g. velocity) into NED at lla.
func ECEF2NEDv(v [3]float64, lla [3]float64) [3]float64 {
	return MulVec(ECEF2NEDDcm(lla), v)
}

// MulVec multiplies a 3x3 matrix with a vector.
func MulVec(m [3][3]float64, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

// Unit returns v/|v| and |v|. A zero vector is returned unchanged.
func Unit(v [3]float64) ([3]float64, float64) {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v, 0
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}, n
}

// Dot returns a·b.
func Dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// Sub returns a-b.
func Sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

// CheckTime wraps a time difference into [-half week, half week].
func CheckTime(t float64) float64 {
	if t > gnss.HalfWeek {
		return t - gnss.Week
	}
	if t < -gnss.HalfWeek {
		return t + gnss.Week
	}
	return t
}

// SagnacRotate rotates an ECEF satellite position by the Earth rotation
// accumulated over the signal travel time tau.
func SagnacRotate(pos [3]float64, tau float64) [3]float64 {
	theta := gnss.OmegaEarth * tau
	s, c := math.Sincos(theta)
	return [3]float64{c*pos[0] + s*pos[1], -s*pos[0] + c*pos[1], pos[2]}
}
