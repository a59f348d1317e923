// Package wire implements the byte-level PostgreSQL v3 frontend/backend
// protocol: a read-only cursor, the typed value codec, the backend message
// encoder, the frontend message decoder and the handshake state machine.
package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Cursor is a read-only cursor over a borrowed byte slice. It never
// panics; every read either advances the cursor and returns a value, or
// returns a PayloadError describing what went wrong. ReadCStr and ReadRest
// return a newly allocated string and every error is a newly allocated
// PayloadError; the integer reads and ReadBytes allocate nothing.
type Cursor struct {
	buf []byte
}

// NewCursor wraps buf for sequential big-endian reads. The cursor does
// not take ownership of buf and must not outlive it.
func NewCursor(buf []byte) Cursor {
	return Cursor{buf: buf}
}

func (c *Cursor) advance(n int) {
	c.buf = c.buf[n:]
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf)
}

// ReadByte reads the next single byte.
func (c *Cursor) ReadByte() (byte, error) {
	if len(c.buf) < 1 {
		return 0, &PayloadError{Kind: PayloadEndOfBuffer}
	}
	b := c.buf[0]
	c.advance(1)
	return b, nil
}

// ReadI16 reads the next big-endian signed 16-bit integer.
func (c *Cursor) ReadI16() (int16, error) {
	if len(c.buf) < 2 {
		return 0, &PayloadError{Kind: PayloadNotEnoughBytes, Required: 2, Source: c.buf}
	}
	v := int16(binary.BigEndian.Uint16(c.buf))
	c.advance(2)
	return v, nil
}

// ReadI32 reads the next big-endian signed 32-bit integer.
func (c *Cursor) ReadI32() (int32, error) {
	if len(c.buf) < 4 {
		return 0, &PayloadError{Kind: PayloadNotEnoughBytes, Required: 4, Source: c.buf}
	}
	v := int32(binary.BigEndian.Uint32(c.buf))
	c.advance(4)
	return v, nil
}

// ReadU32 reads the next big-endian unsigned 32-bit integer.
func (c *Cursor) ReadU32() (uint32, error) {
	v, err := c.ReadI32()
	return uint32(v), err
}

// ReadI64 reads the next big-endian signed 64-bit integer.
func (c *Cursor) ReadI64() (int64, error) {
	if len(c.buf) < 8 {
		return 0, &PayloadError{Kind: PayloadNotEnoughBytes, Required: 8, Source: c.buf}
	}
	v := int64(binary.BigEndian.Uint64(c.buf))
	c.advance(8)
	return v, nil
}

// ReadCStr reads bytes up to and including the first 0x00 byte, validates
// the bytes before the terminator as UTF-8, and advances the cursor past
// the terminator. The terminator itself is not included in the result.
func (c *Cursor) ReadCStr() (string, error) {
	idx := -1
	for i, b := range c.buf {
		if b == 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", &PayloadError{Kind: PayloadCStringNotTerminated, Source: c.buf}
	}
	raw := c.buf[:idx]
	if !utf8.Valid(raw) {
		return "", &PayloadError{Kind: PayloadInvalidUtfString, Source: raw}
	}
	s := string(raw)
	c.advance(idx + 1)
	return s, nil
}

// ReadRest reads and validates every remaining byte as a single UTF-8
// string, consuming the rest of the cursor.
func (c *Cursor) ReadRest() (string, error) {
	if !utf8.Valid(c.buf) {
		return "", &PayloadError{Kind: PayloadInvalidUtfString, Source: c.buf}
	}
	s := string(c.buf)
	c.advance(len(c.buf))
	return s, nil
}

// ReadBytes reads the next n raw bytes without interpretation.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if len(c.buf) < n {
		return nil, &PayloadError{Kind: PayloadNotEnoughBytes, Required: n, Source: c.buf}
	}
	b := c.buf[:n]
	c.advance(n)
	return b, nil
}

func fmtSource(b []byte) string {
	if len(b) > 32 {
		b = b[:32]
	}
	return fmt.Sprintf("%x", b)
}
