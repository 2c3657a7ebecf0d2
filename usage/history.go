// Package usage implements the Machine Usage state machine (spec §4.5) and
// the Usage-History Store it owns (spec §4.6): relay actuation driven by
// the Session Coordinator, crash-safe append-and-persist bookkeeping, and
// the optimistic upload-then-clear submission to the cloud.
package usage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

// Reason is the closed set of checkout reasons (spec §4.6's UsageRecord,
// grounded on machine_state.cpp's ReasonUiT/ReasonTimeoutT/... variant
// family). ReasonUnset marks a still-open record.
type Reason byte

const (
	ReasonUnset Reason = iota
	ReasonUI
	ReasonCheckInOtherTag
	ReasonCheckInOtherMachine
	ReasonTimeout
	ReasonSelfCheckout
)

// Record is one check-in/check-out cycle. CheckOut == 0 means the record is
// still open; at most one open record may exist per History (spec §4.6
// invariant).
type Record struct {
	SessionID string
	CheckIn   int64 // epoch seconds
	CheckOut  int64 // epoch seconds, 0 if open
	Reason    Reason
	Message   string
}

// History is the durable, append-oriented usage log for one machine.
type History struct {
	MachineID string
	Records   []Record
}

const (
	historyMagic   uint32 = 0x55_48_43_4D // "MCHU" little-endian
	historyVersion byte   = 1
)

// Marshal encodes h into the length-prefixed frame described in spec §4.6:
// a small fixed header (magic, version, machine id) followed by one
// variable-length record per entry and a trailing CRC32 over everything
// that precedes it. Using explicit length prefixes per field (rather than a
// schema-driven codec) keeps the format "tolerant of the serializer being
// evolved" the way the spec asks for: an older reader that doesn't know
// about a newly added trailing field still parses every record that
// precedes it.
func (h *History) Marshal() []byte {
	buf := make([]byte, 0, 64+32*len(h.Records))
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], historyMagic)
	buf = append(buf, scratch[:]...)
	buf = append(buf, historyVersion)
	buf = appendString(buf, h.MachineID)

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(h.Records)))
	buf = append(buf, scratch[:]...)

	for _, r := range h.Records {
		buf = appendString(buf, r.SessionID)
		buf = appendInt64(buf, r.CheckIn)
		buf = appendInt64(buf, r.CheckOut)
		buf = append(buf, byte(r.Reason))
		buf = appendString(buf, r.Message)
	}

	checksum := crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(scratch[:], checksum)
	return append(buf, scratch[:]...)
}

// Unmarshal decodes a History previously produced by Marshal. It returns a
// MalformedResponse error on any framing or checksum failure, including a
// truncated/partial trailing record (spec §4.6 "tolerant of partial
// records": truncation is treated as corruption of the tail, not panic).
func Unmarshal(data []byte) (*History, error) {
	const headerMin = 4 + 1 + 4 + 4 // magic, version, machine-id length, record count
	if len(data) < headerMin+4 {
		return nil, errs.Newf(errs.MalformedResponse, "usage history: frame too short (%d bytes)", len(data))
	}

	checksum := binary.LittleEndian.Uint32(data[len(data)-4:])
	body := data[:len(data)-4]
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, errs.New(errs.MalformedResponse, errFailedChecksum)
	}

	r := &reader{buf: body}
	magic, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if magic != historyMagic {
		return nil, errs.Newf(errs.MalformedResponse, "usage history: bad magic %08x", magic)
	}
	ver, err := r.byte()
	if err != nil {
		return nil, err
	}
	if ver != historyVersion {
		return nil, errs.Newf(errs.MalformedResponse, "usage history: unsupported version %d", ver)
	}

	machineID, err := r.string()
	if err != nil {
		return nil, err
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	h := &History{MachineID: machineID, Records: make([]Record, 0, count)}
	for i := uint32(0); i < count; i++ {
		var rec Record
		if rec.SessionID, err = r.string(); err != nil {
			return nil, err
		}
		if rec.CheckIn, err = r.int64(); err != nil {
			return nil, err
		}
		if rec.CheckOut, err = r.int64(); err != nil {
			return nil, err
		}
		reasonByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		rec.Reason = Reason(reasonByte)
		if rec.Message, err = r.string(); err != nil {
			return nil, err
		}
		h.Records = append(h.Records, rec)
	}
	return h, nil
}

var errFailedChecksum = errors.New("usage history: checksum mismatch")

func appendString(buf []byte, s string) []byte {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(s)))
	buf = append(buf, scratch[:]...)
	return append(buf, s...)
}

func appendInt64(buf []byte, v int64) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(v))
	return append(buf, scratch[:]...)
}

// reader is a small cursor over a length-prefixed byte frame, used only to
// decode History.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return errs.Newf(errs.MalformedResponse, "usage history: truncated frame at offset %d", r.pos)
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
