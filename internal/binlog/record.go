// Package binlog reads and writes the per-channel binary tracking log: one
// fixed-size little-endian record per processed epoch.
package binlog

import (
	"encoding/binary"
	"math"
)

// Record is one epoch of channel output.
type Record struct {
	ChannelNum     uint8
	Constellation  uint8
	Signal         uint8
	SVID           uint8
	ChannelStatus  uint8
	TrackingStatus uint8
	Week           uint16
	ToW            float64
	CNo            float64
	Doppler        float64
	CodePhase      float64
	CarrierPhase   float64
	IE, IP, IL     float64
	QE, QP, QL     float64
	IP1, IP2       float64 // prompt split at the half-integration boundary
	QP1, QP2       float64
	DllDisc        float64
	PllDisc        float64
	FllDisc        float64
	NavBits        [2]uint64 // accumulated data bits, oldest in the high bits of word 0
}

// RecordSize is the encoded size of a Record in bytes.
const RecordSize = 8 + 18*8 + 2*8

func putF(b []byte, off int, v float64) int {
	binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
	return off + 8
}

func getF(b []byte, off int) (float64, int) {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:])), off + 8
}

// MarshalTo encodes r into b, which must hold RecordSize bytes.
func (r *Record) MarshalTo(b []byte) {
	_ = b[RecordSize-1]
	b[0] = r.ChannelNum
	b[1] = r.Constellation
	b[2] = r.Signal
	b[3] = r.SVID
	b[4] = r.ChannelStatus
	b[5] = r.TrackingStatus
	binary.LittleEndian.PutUint16(b[6:], r.Week)
	off := 8
	for _, v := range [...]float64{
		r.ToW, r.CNo, r.Doppler, r.CodePhase, r.CarrierPhase,
		r.IE, r.IP, r.IL, r.QE, r.QP, r.QL,
		r.IP1, r.IP2, r.QP1, r.QP2,
		r.DllDisc, r.PllDisc, r.FllDisc,
	} {
		off = putF(b, off, v)
	}
	binary.LittleEndian.PutUint64(b[off:], r.NavBits[0])
	binary.LittleEndian.PutUint64(b[off+8:], r.NavBits[1])
}

// Unmarshal decodes b, which must hold RecordSize bytes.
func (r *Record) Unmarshal(b []byte) {
	_ = b[RecordSize-1]
	r.ChannelNum = b[0]
	r.Constellation = b[1]
	r.Signal = b[2]
	r.SVID = b[3]
	r.ChannelStatus = b[4]
	r.TrackingStatus = b[5]
	r.Week = binary.LittleEndian.Uint16(b[6:])
	off := 8
	for _, p := range [...]*float64{
		&r.ToW, &r.CNo, &r.Doppler, &r.CodePhase, &r.CarrierPhase,
		&r.IE, &r.IP, &r.IL, &r.QE, &r.QP, &r.QL,
		&r.IP1, &r.IP2, &r.QP1, &r.QP2,
		&r.DllDisc, &r.PllDisc, &r.FllDisc,
	} {
		*p, off = getF(b, off)
	}
	r.NavBits[0] = binary.LittleEndian.Uint64(b[off:])
	r.NavBits[1] = binary.LittleEndian.Uint64(b[off+8:])
}
