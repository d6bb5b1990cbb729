package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoGNSS/internal/ephemeris"
)

// ephemerisEntry is one satellite in an assistance ephemeris file. Angles
// are in radians, times in seconds of week.
type ephemerisEntry struct {
	PRN      uint8   `yaml:"prn"`
	IODE     float64 `yaml:"iode"`
	IODC     float64 `yaml:"iodc"`
	Toe      float64 `yaml:"toe"`
	Toc      float64 `yaml:"toc"`
	Tgd      float64 `yaml:"tgd"`
	Af0      float64 `yaml:"af0"`
	Af1      float64 `yaml:"af1"`
	Af2      float64 `yaml:"af2"`
	E        float64 `yaml:"e"`
	SqrtA    float64 `yaml:"sqrt_a"`
	DeltaN   float64 `yaml:"delta_n"`
	M0       float64 `yaml:"m0"`
	Omega0   float64 `yaml:"omega0"`
	Omega    float64 `yaml:"omega"`
	OmegaDot float64 `yaml:"omega_dot"`
	I0       float64 `yaml:"i0"`
	IDot     float64 `yaml:"idot"`
	Cuc      float64 `yaml:"cuc"`
	Cus      float64 `yaml:"cus"`
	Cic      float64 `yaml:"cic"`
	Cis      float64 `yaml:"cis"`
	Crc      float64 `yaml:"crc"`
	Crs      float64 `yaml:"crs"`
	URA      float64 `yaml:"ura"`
	Health   float64 `yaml:"health"`
}

// LoadEphemeris reads a YAML list of broadcast ephemerides keyed by PRN.
func LoadEphemeris(path string) (map[uint8]ephemeris.Keplerian, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ephemeris: %w", err)
	}
	var doc struct {
		Satellites []ephemerisEntry `yaml:"satellites"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse ephemeris %s: %w", path, err)
	}
	out := make(map[uint8]ephemeris.Keplerian, len(doc.Satellites))
	for i, e := range doc.Satellites {
		if e.PRN < 1 || e.PRN > 32 {
			return nil, fmt.Errorf("%w: ephemeris %d has prn %d", ErrInvalid, i, e.PRN)
		}
		if e.SqrtA <= 0 {
			return nil, fmt.Errorf("%w: ephemeris for prn %d has no orbit", ErrInvalid, e.PRN)
		}
		out[e.PRN] = ephemeris.Keplerian{
			IODE: e.IODE, IODC: e.IODC, Toe: e.Toe, Toc: e.Toc, Tgd: e.Tgd,
			Af0: e.Af0, Af1: e.Af1, Af2: e.Af2,
			E: e.E, SqrtA: e.SqrtA, DeltaN: e.DeltaN, M0: e.M0,
			Omega0: e.Omega0, Omega: e.Omega, OmegaDot: e.OmegaDot,
			I0: e.I0, IDot: e.IDot,
			Cuc: e.Cuc, Cus: e.Cus, Cic: e.Cic, Cis: e.Cis, Crc: e.Crc, Crs: e.Crs,
			URA: e.URA, Health: e.Health,
		}
	}
	return out, nil
}
