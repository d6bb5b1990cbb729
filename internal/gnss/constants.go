// Package gnss holds signal-level constants, identifiers and spreading code
// generation shared by acquisition, tracking and navigation.
package gnss

import "math"

const (
	SpeedOfLight = 299792458.0 // m/s
	TwoPi        = 2 * math.Pi

	GpsL1Freq       = 1575.42e6 // Hz
	GpsL1Wavelength = SpeedOfLight / GpsL1Freq
	CACodeRate      = 1.023e6 // chips/s
	CACodeLength    = 1023
	CAChipWidth     = SpeedOfLight / CACodeRate // metres per chip
	NumGpsPRN       = 32

	WGS84R0    = 6378137.0
	WGS84F     = 1.0 / 298.257223563
	WGS84E2    = WGS84F * (2 - WGS84F)
	OmegaEarth = 7.2921151467e-5 // rad/s
	GM         = 3.986005e14
	J2         = 1.082627e-3
	RelativisticF = -4.442807633e-10

	Week     = 604800.0
	HalfWeek = 302400.0
)

// Constellation identifies a satellite system.
type Constellation uint8

const (
	GPS Constellation = iota
	Galileo
	GLONASS
	BeiDou
)

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "GPS"
	case Galileo:
		return "GALILEO"
	case GLONASS:
		return "GLONASS"
	case BeiDou:
		return "BEIDOU"
	default:
		return "UNKNOWN"
	}
}

// Signal identifies a signal within a constellation.
type Signal uint8

const (
	GpsL1CA Signal = iota
	GpsL1C
	GpsL2C
	GpsL5
)

func (s Signal) String() string {
	switch s {
	case GpsL1CA:
		return "L1CA"
	case GpsL1C:
		return "L1C"
	case GpsL2C:
		return "L2C"
	case GpsL5:
		return "L5"
	default:
		return "UNKNOWN"
	}
}
