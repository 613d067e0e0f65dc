// Parse the contents of the EVTX files.
// Reference: https://docs.microsoft.com/en-us/openspecs/windows_protocols/ms-even6/c73573ae-1c90-43a2-a65f-ad7501155956
// (c) 2019, igosha (2igosha@gmail.com)
package igevtx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrUnexpectedEOF marks a read or skip that ran past the end of a
// cursor's bounded region.
var ErrUnexpectedEOF = errors.New("unexpected end of BinXML stream")

// Cursor is a bounded, read-only view over a byte region with a
// monotonic offset. chunkBase records where this cursor's data begins,
// expressed in chunk-relative coordinates, so a name reference (always
// chunk-relative) can be compared against the cursor's current
// position without knowing which sub-stream it was cut from.
type Cursor struct {
	data      []byte
	offset    int
	chunkBase uint32
}

// NewCursor wraps data as a bounded cursor. chunkBase is the
// chunk-relative offset of data[0].
func NewCursor(data []byte, chunkBase uint32) Cursor {
	return Cursor{data: data, chunkBase: chunkBase}
}

// Remaining reports how many bytes are left to read.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.offset
}

// Position returns the cursor's current offset in chunk-relative
// coordinates.
func (c *Cursor) Position() uint32 {
	return c.chunkBase + uint32(c.offset)
}

// Skip advances the cursor by n bytes without returning them. Running
// past the end exhausts the cursor; subsequent reads fail.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.offset+n > len(c.data) {
		c.offset = len(c.data)
		return errors.Wrapf(ErrUnexpectedEOF, "skip %d bytes", n)
	}
	c.offset += n
	return nil
}

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.offset+n > len(c.data) {
		return nil, errors.Wrapf(ErrUnexpectedEOF, "read %d bytes", n)
	}
	b := c.data[c.offset : c.offset+n]
	c.offset += n
	return b, nil
}

// ReadU8 reads a single byte.
func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (c *Cursor) ReadU64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes reads n raw bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	return c.take(n)
}

// ReadU16Array reads n contiguous little-endian uint16 elements.
func (c *Cursor) ReadU16Array(n int) ([]uint16, error) {
	out := make([]uint16, n)
	for i := range out {
		v, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GUID is the on-disk layout of a Windows GUID: {u32, u16, u16, u8[8]}.
type GUID struct {
	D1 uint32
	W1 uint16
	W2 uint16
	B  [8]byte
}

// ReadGUID reads a 16-byte GUID field-by-field (no unaligned
// reinterpretation).
func (c *Cursor) ReadGUID() (GUID, error) {
	var g GUID
	var err error
	if g.D1, err = c.ReadU32(); err != nil {
		return GUID{}, err
	}
	if g.W1, err = c.ReadU16(); err != nil {
		return GUID{}, err
	}
	if g.W2, err = c.ReadU16(); err != nil {
		return GUID{}, err
	}
	b, err := c.take(8)
	if err != nil {
		return GUID{}, err
	}
	copy(g.B[:], b)
	return g, nil
}

// readLengthPrefixedUTF16 reads a u16 code-unit count followed by
// exactly that many UTF-16LE code units and, if nullTerminated, a
// trailing u16 zero terminator it discards.
func readLengthPrefixedUTF16(c *Cursor, nullTerminated bool) (string, error) {
	count, err := c.ReadU16()
	if err != nil {
		return "", err
	}
	units, err := c.ReadU16Array(int(count))
	if err != nil {
		return "", err
	}
	if nullTerminated {
		if err := c.Skip(2); err != nil {
			return "", err
		}
	}
	return decodeUTF16LE(units), nil
}

// decodeUTF16LE converts BMP, non-surrogate UTF-16LE code units
// directly to UTF-8 without going through unicode/utf16 and
// unicode/utf8. EVTX names and values are restricted to this range in
// practice, so surrogate pairs are not handled.
func decodeUTF16LE(buf []uint16) string {
	b := make([]byte, 0, len(buf))
	for _, w := range buf {
		switch {
		case w <= 0x7F:
			b = append(b, byte(w))
		case w <= 0x7FF:
			b = append(b, 0xC0|byte(w>>6))
			b = append(b, 0x80|byte(w&0x3F))
		default:
			b = append(b, 0xE0|byte(w>>12))
			b = append(b, 0x80|byte((w>>6)&0x3F))
			b = append(b, 0x80|byte(w&0x3F))
		}
	}
	return string(b)
}
