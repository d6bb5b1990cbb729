package sdr

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// FileSource replays a recording of signed 8 or 16 bit samples, real or
// I/Q interleaved, with antennas interleaved per sample.
type FileSource struct {
	cfg  Config
	f    *os.File
	r    *bufio.Reader
	raw  []byte
	read uint64
}

func NewFileSource() *FileSource { return &FileSource{} }

func (s *FileSource) bytesPerSample() int {
	b := 1
	if s.cfg.BitDepth > 8 {
		b = 2
	}
	if s.cfg.IsComplex {
		b *= 2
	}
	return b
}

func (s *FileSource) Init(_ context.Context, cfg Config) error {
	if cfg.Path == "" {
		return errors.New("file source: no input path")
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 8
	}
	if cfg.BitDepth != 8 && cfg.BitDepth != 16 {
		return fmt.Errorf("file source: unsupported bit depth %d", cfg.BitDepth)
	}
	if cfg.NumSamples <= 0 {
		return fmt.Errorf("file source: read size must be positive, got %d", cfg.NumSamples)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("file source: %w", err)
	}
	s.cfg = cfg
	s.f = f
	s.r = bufio.NewReaderSize(f, 1<<20)
	s.raw = make([]byte, cfg.NumSamples*cfg.antennas()*s.bytesPerSample())
	if cfg.SkipMs > 0 {
		skip := int64(float64(cfg.SkipMs)*cfg.SampleRate/1000) * int64(cfg.antennas()*s.bytesPerSample())
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("file source: skip %d ms: %w", cfg.SkipMs, err)
		}
		s.r.Reset(f)
	}
	return nil
}

func (s *FileSource) RX(ctx context.Context, dst []complex128) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.r == nil {
		return errors.New("file source: not initialised")
	}
	total := s.cfg.NumSamples * s.cfg.antennas()
	if len(dst) < total {
		return fmt.Errorf("file source: destination holds %d samples, need %d", len(dst), total)
	}
	if _, err := io.ReadFull(s.r, s.raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrEndOfData
		}
		return fmt.Errorf("file source: %w", err)
	}
	wide := s.cfg.BitDepth > 8
	off := 0
	next := func() float64 {
		if wide {
			v := int16(binary.LittleEndian.Uint16(s.raw[off:]))
			off += 2
			return float64(v)
		}
		v := int8(s.raw[off])
		off++
		return float64(v)
	}
	for i := 0; i < total; i++ {
		re := next()
		im := 0.0
		if s.cfg.IsComplex {
			im = next()
		}
		dst[i] = complex(re, im)
	}
	s.read += uint64(s.cfg.NumSamples)
	return nil
}

// SamplesRead is the number of rows delivered so far.
func (s *FileSource) SamplesRead() uint64 { return s.read }

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.r = nil
	return err
}
