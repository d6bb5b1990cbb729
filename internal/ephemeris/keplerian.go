// Package ephemeris computes satellite states from broadcast Keplerian
// elements (IS-GPS-200 table 20-IV).
package ephemeris

import (
	"math"

	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/navtools"
)

// Keplerian is one decoded broadcast ephemeris.
type Keplerian struct {
	IODE     float64
	IODC     float64
	Toe      float64 // time of ephemeris [s of week]
	Toc      float64 // time of clock [s of week]
	Tgd      float64
	Af2      float64
	Af1      float64
	Af0      float64
	E        float64
	SqrtA    float64
	DeltaN   float64
	M0       float64
	Omega0   float64
	Omega    float64
	OmegaDot float64
	I0       float64
	IDot     float64
	Cuc      float64
	Cus      float64
	Cic      float64
	Cis      float64
	Crc      float64
	Crs      float64
	URA      float64
	Health   float64
}

// State is a satellite position/velocity/acceleration (ECEF) and clock
// correction (bias s, drift s/s, drift rate s/s^2).
type State struct {
	Pos   [3]float64
	Vel   [3]float64
	Acc   [3]float64
	Clock [3]float64
}

// NavStates evaluates the ephemeris at time of week tow.
func (k *Keplerian) NavStates(tow float64, withAccel bool) State {
	a := k.SqrtA * k.SqrtA
	n0 := math.Sqrt(gnss.GM / (a * a * a))
	n := n0 + k.DeltaN
	tk := navtools.CheckTime(tow - k.Toe)
	mk := math.Mod(k.M0+n*tk+gnss.TwoPi, gnss.TwoPi)

	ek := mk
	for i := 0; i < 10; i++ {
		dE := (mk - ek + k.E*math.Sin(ek)) / (1 - k.E*math.Cos(ek))
		ek += dE
		if math.Abs(dE) < 1e-15 {
			break
		}
	}
	ek = math.Mod(ek+gnss.TwoPi, gnss.TwoPi)

	sinE, cosE := math.Sincos(ek)
	den := 1 - k.E*cosE
	sq1me2 := math.Sqrt(1 - k.E*k.E)
	fesqa := gnss.RelativisticF * k.E * k.SqrtA

	vk := 2 * math.Atan2(math.Sqrt((1+k.E)/(1-k.E))*math.Tan(0.5*ek), 1)
	phik := math.Mod(vk+k.Omega, gnss.TwoPi)
	sin2p, cos2p := math.Sincos(2 * phik)

	uk := phik + k.Cus*sin2p + k.Cuc*cos2p
	rk := a*den + k.Crs*sin2p + k.Crc*cos2p
	ik := k.I0 + k.IDot*tk + k.Cis*sin2p + k.Cic*cos2p
	wk := math.Mod(k.Omega0+tk*(k.OmegaDot-gnss.OmegaEarth)-gnss.OmegaEarth*k.Toe+gnss.TwoPi, gnss.TwoPi)
	sinU, cosU := math.Sincos(uk)
	sinI, cosI := math.Sincos(ik)
	sinW, cosW := math.Sincos(wk)

	eDot := n / den
	vDot := eDot * sq1me2 / den
	iDot := k.IDot + 2*vDot*(k.Cis*cos2p-k.Cic*sin2p)
	uDot := vDot * (1 + 2*(k.Cus*cos2p-k.Cuc*sin2p))
	rDot := k.E*a*eDot*sinE + 2*vDot*(k.Crs*cos2p-k.Crc*sin2p)
	wDot := k.OmegaDot - gnss.OmegaEarth

	xo := rk * cosU
	yo := rk * sinU
	var s State
	s.Pos = [3]float64{
		xo*cosW - yo*cosI*sinW,
		xo*sinW + yo*cosI*cosW,
		yo * sinI,
	}

	xoDot := rDot*cosU - rk*uDot*sinU
	yoDot := rDot*sinU + rk*uDot*cosU
	s.Vel = [3]float64{
		-(xo * wDot * sinW) + xoDot*cosW - yoDot*sinW*cosI - yo*(wDot*cosW*cosI-iDot*sinW*sinI),
		(xo * wDot * cosW) + xoDot*sinW + yoDot*cosW*cosI - yo*(wDot*sinW*cosI+iDot*cosW*sinI),
		yoDot*sinI + yo*iDot*cosI,
	}

	if withAccel {
		x, y, z := s.Pos[0], s.Pos[1], s.Pos[2]
		f := -1.5 * gnss.J2 * (gnss.GM / (rk * rk)) * math.Pow(gnss.WGS84R0/rk, 2)
		t1 := -gnss.GM / (rk * rk * rk)
		t2 := 5 * (z / rk) * (z / rk)
		t3 := gnss.OmegaEarth * gnss.OmegaEarth
		s.Acc = [3]float64{
			t1*x + f*(1-t2)*(x/rk) + 2*s.Vel[1]*gnss.OmegaEarth + x*t3,
			t1*y + f*(1-t2)*(y/rk) - 2*s.Vel[0]*gnss.OmegaEarth + y*t3,
			t1*z + f*(3-t2)*(z/rk),
		}
	}

	dt := navtools.CheckTime(tow - k.Toc)
	s.Clock[0] = k.Af0 + k.Af1*dt + k.Af2*dt*dt + fesqa*sinE - k.Tgd
	s.Clock[1] = k.Af1 + 2*k.Af2*dt + n*fesqa*cosE/den
	if withAccel {
		s.Clock[2] = 2*k.Af2 - n*n*fesqa*sinE/(den*den)
	}
	return s
}

// Table holds the latest ephemeris per PRN. It is not synchronised; the
// owner serialises access.
type Table map[uint8]*Keplerian

// Update stores eph for prn, replacing older data. It reports whether the
// stored set changed.
func (t Table) Update(prn uint8, eph *Keplerian) bool {
	if eph == nil {
		return false
	}
	if old, ok := t[prn]; ok && *old == *eph {
		return false
	}
	cp := *eph
	t[prn] = &cp
	return true
}
