package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Layout, version 1:
//
//	version:u8 identity:str username:str via:u8 created:varint expires:varint
//
// where str is a uvarint length followed by that many bytes.
const (
	formatV1     = 1
	maxFieldSize = 1024
)

var errShort = errors.New("session: truncated record")

// Encode serializes s. SessionID is omitted; it is part of the key.
func Encode(s *Session) ([]byte, error) {
	if len(s.IdentityID) > maxFieldSize || len(s.Username) > maxFieldSize {
		return nil, fmt.Errorf("session: field longer than %d bytes", maxFieldSize)
	}
	buf := make([]byte, 0, 1+len(s.IdentityID)+len(s.Username)+2*binary.MaxVarintLen64+4)
	buf = append(buf, formatV1)
	buf = appendString(buf, s.IdentityID)
	buf = appendString(buf, s.Username)
	buf = append(buf, s.Via)
	buf = binary.AppendVarint(buf, s.CreatedAt)
	buf = binary.AppendVarint(buf, s.ExpiresAt)
	return buf, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	d := decoder{buf: data}
	if v := d.byte(); d.err == nil && v != formatV1 {
		return nil, fmt.Errorf("session: unsupported format %d", v)
	}
	s := &Session{
		IdentityID: d.string(),
		Username:   d.string(),
		Via:        d.byte(),
		CreatedAt:  d.varint(),
		ExpiresAt:  d.varint(),
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, errors.New("session: trailing bytes")
	}
	return s, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// decoder consumes buf front to back and latches the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) byte() byte {
	if d.err != nil || len(d.buf) < 1 {
		d.fail(errShort)
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	n, w := binary.Uvarint(d.buf)
	if w <= 0 || n > maxFieldSize || uint64(len(d.buf)-w) < n {
		d.fail(errShort)
		return ""
	}
	s := string(d.buf[w : w+int(n)])
	d.buf = d.buf[w+int(n):]
	return s
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, w := binary.Varint(d.buf)
	if w <= 0 {
		d.fail(errShort)
		return 0
	}
	d.buf = d.buf[w:]
	return v
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
