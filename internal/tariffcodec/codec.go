// Package tariffcodec implements the self-describing binary tariff
// persistence format: a fixed magic string, a version word, and a
// versioned payload. Callers treat an encoded tariff as an opaque blob;
// this package only needs to encode it deterministically and reject
// anything malformed on decode.
package tariffcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/mogwaid/mogwaid/internal/period"
	"github.com/mogwaid/mogwaid/internal/tariff"
)

// Magic is the fixed header string every encoded tariff begins with.
const Magic = "Mogwai tariff"

// Version1 is the only payload version this codec understands.
const Version1 uint16 = 0x0001

// ErrInvalidTariff is returned for any structurally or semantically invalid
// on-disk tariff: bad magic, unsupported version, trailing bytes, or a
// period/tariff value that fails its own validation.
var ErrInvalidTariff = errors.New("tariffcodec: invalid tariff")

type onDiskPeriod struct {
	StartUnix     uint64
	EndUnix       uint64
	RepeatType    uint16
	RepeatPeriod  uint32
	CapacityLimit uint64
}

// Encode serializes t in the version-1 wire format, always using
// little-endian byte order.
func Encode(t *tariff.Tariff) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Magic)

	if err := binary.Write(&buf, binary.LittleEndian, Version1); err != nil {
		return nil, err
	}

	nameBytes := []byte(t.Name())
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
		return nil, err
	}
	buf.Write(nameBytes)

	periods := t.Periods()
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(periods))); err != nil {
		return nil, err
	}
	for _, p := range periods {
		rec := onDiskPeriod{
			StartUnix:     uint64(p.Start().Unix()),
			EndUnix:       uint64(p.End().Unix()),
			RepeatType:    uint16(p.RepeatType()),
			RepeatPeriod:  p.RepeatPeriod(),
			CapacityLimit: p.CapacityLimit(),
		}
		if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode parses an on-disk tariff. It rejects non-normalized input (bad
// magic, bad/unknown version, trailing bytes) and invalid period/tariff
// values, always with ErrInvalidTariff. Decoding is idempotent: calling it
// repeatedly with the same bytes always produces an equivalent Tariff, and
// a decode never mutates input state other than the returned value.
func Decode(data []byte) (*tariff.Tariff, error) {
	r := bytes.NewReader(data)

	magicBuf := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("%w: truncated magic: %v", ErrInvalidTariff, err)
	}
	if string(magicBuf) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidTariff, magicBuf)
	}

	var versionBytes [2]byte
	if _, err := io.ReadFull(r, versionBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated version: %v", ErrInvalidTariff, err)
	}
	order, err := resolveByteOrder(versionBytes)
	if err != nil {
		return nil, err
	}

	name, err := readString(r, order)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(name) {
		return nil, fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidTariff)
	}

	var count uint32
	if err := binary.Read(r, order, &count); err != nil {
		return nil, fmt.Errorf("%w: truncated period count: %v", ErrInvalidTariff, err)
	}

	periods := make([]*period.Period, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec onDiskPeriod
		if err := binary.Read(r, order, &rec); err != nil {
			return nil, fmt.Errorf("%w: truncated period %d: %v", ErrInvalidTariff, i, err)
		}
		p, err := period.New(
			unixToTime(rec.StartUnix),
			unixToTime(rec.EndUnix),
			period.RepeatType(rec.RepeatType),
			rec.RepeatPeriod,
			rec.CapacityLimit,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: period %d: %v", ErrInvalidTariff, i, err)
		}
		periods = append(periods, p)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after payload", ErrInvalidTariff, r.Len())
	}

	t, err := tariff.New(name, periods)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTariff, err)
	}
	return t, nil
}

// resolveByteOrder inspects the raw version bytes and determines whether
// the payload was written little-endian (the canonical form) or
// big-endian, so a file written on a big-endian host still decodes
// correctly on a little-endian one and vice versa.
func resolveByteOrder(raw [2]byte) (binary.ByteOrder, error) {
	le := binary.LittleEndian.Uint16(raw[:])
	if le == Version1 {
		return binary.LittleEndian, nil
	}
	be := binary.BigEndian.Uint16(raw[:])
	if be == Version1 {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: unsupported version bytes %x", ErrInvalidTariff, raw)
}

func readString(r *bytes.Reader, order binary.ByteOrder) (string, error) {
	var length uint32
	if err := binary.Read(r, order, &length); err != nil {
		return "", fmt.Errorf("%w: truncated string length: %v", ErrInvalidTariff, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated string: %v", ErrInvalidTariff, err)
	}
	return string(buf), nil
}

func unixToTime(u uint64) time.Time {
	return time.Unix(int64(u), 0).UTC()
}
