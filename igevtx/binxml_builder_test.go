package igevtx

import (
	"bytes"
	"encoding/binary"
)

// binxmlBuilder assembles synthetic BinXML token streams byte-by-byte
// for tests, mirroring the on-disk layouts the decoder reads. It is
// deliberately low-level: each method writes exactly what the decoder
// expects to read, so a test failure points at a real decoding bug
// rather than a builder bug.
type binxmlBuilder struct {
	buf bytes.Buffer
	// base is the chunk-relative offset at which these bytes will be
	// placed; name references are computed relative to it.
	base uint32
}

// instanceBodyOffset is where templateInstanceUnknown places the inline
// template body, counted from the instance's 0x0C tag: tag, marker,
// short id, reserved length, argument count, long id and body length.
const instanceBodyOffset = 1 + 1 + 4 + 4 + 4 + 16 + 4

func (b *binxmlBuilder) bytes() []byte { return b.buf.Bytes() }

func (b *binxmlBuilder) u8(v uint8)   { b.buf.WriteByte(v) }
func (b *binxmlBuilder) u16(v uint16) { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *binxmlBuilder) u32(v uint32) { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *binxmlBuilder) u64(v uint64) { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *binxmlBuilder) raw(p []byte) { b.buf.Write(p) }

// asciiToUTF16 converts an ASCII string (test inputs only use the
// ASCII subset) to naive UTF-16LE code units.
func asciiToUTF16(s string) []uint16 {
	out := make([]uint16, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = uint16(s[i])
	}
	return out
}

// name writes a chunk-relative name reference whose body is placed
// in-place, immediately after the 4-byte offset field — the common
// "freshly parsed" case in readName.
func (b *binxmlBuilder) name(s string) {
	offset := b.base + uint32(b.buf.Len()) + 4
	b.u32(offset)
	b.u32(0) // forward-link, ignored
	b.u16(0) // hash, ignored
	units := asciiToUTF16(s)
	b.u16(uint16(len(units)))
	for _, u := range units {
		b.u16(u)
	}
	b.u16(0) // null terminator
}

// openStart writes OpenStartElementToken (0x01, or 0x41 with an
// attribute list).
func (b *binxmlBuilder) openStart(elementName string, hasAttrs bool) {
	if hasAttrs {
		b.u8(0x41)
	} else {
		b.u8(0x01)
	}
	b.u16(0) // dependency id, unused
	b.u32(0) // element length, unused
	b.name(elementName)
	if hasAttrs {
		b.u32(0) // attribute-list length, unused
	}
}

// closeStart writes CloseStartElementToken (0x02).
func (b *binxmlBuilder) closeStart() { b.u8(0x02) }

// closeElement writes CloseElementToken (0x04).
func (b *binxmlBuilder) closeElement() { b.u8(0x04) }

// attribute writes AttributeToken (0x06) naming an attribute.
func (b *binxmlBuilder) attribute(attrName string) {
	b.u8(0x06)
	b.name(attrName)
}

// valueText writes ValueTextToken (0x05) with a length-prefixed,
// non-null-terminated UTF-16LE string.
func (b *binxmlBuilder) valueText(s string) {
	b.u8(0x05)
	b.u8(0) // string-type discriminant, opaque
	units := asciiToUTF16(s)
	b.u16(uint16(len(units)))
	for _, u := range units {
		b.u16(u)
	}
}

// substitution writes a NormalSubstitutionToken (0x0D) with a single
// value-type byte; the zero-type escape (a second type byte) is not
// written by this builder.
func (b *binxmlBuilder) substitution(id uint16, valueType uint8) {
	b.u8(0x0D)
	b.u16(id)
	b.u8(valueType)
}

// eof writes the EOF token (0x00).
func (b *binxmlBuilder) eof() { b.u8(0x00) }

// argMapEntryRaw writes one (length, type) pair of a template instance's
// argument map.
func (b *binxmlBuilder) argMapEntryRaw(length, typ uint16) {
	b.u16(length)
	b.u16(typ)
}

// templateInstanceUnknown writes a TemplateInstanceToken (0x0C) whose
// short id has not yet been registered: the full inline template
// definition (long id + body) precedes the real argument count.
func (b *binxmlBuilder) templateInstanceUnknown(shortID uint32, body []byte) {
	b.u8(0x0C)
	b.u8(0x01) // marker
	b.u32(shortID)
	b.u32(0) // reserved length, unused
	b.u32(0) // placeholder arg count, discarded and re-read after the body
	b.raw(make([]byte, 16)) // long id, unused
	b.u32(uint32(len(body)))
	b.raw(body)
}

// templateInstanceKnownHeader writes the header of a
// TemplateInstanceToken (0x0C) for a short id already present in the
// chunk's registry; the caller appends the argument count.
func (b *binxmlBuilder) templateInstanceKnownHeader(shortID uint32) {
	b.u8(0x0C)
	b.u8(0x01)
	b.u32(shortID)
	b.u32(0) // reserved length, unused
}

// argCount encodes the 32-bit argument count the binder expects
// immediately after a template's identity is resolved (known or just
// materialized).
func argCount(n uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	return buf
}

func u16le(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}

func u32le(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func u64le(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// recordingEmitter collects emitted pairs in order for assertions.
type recordingEmitter struct {
	Keys   []string
	Values []string
}

func (e *recordingEmitter) Emit(key, value string) {
	e.Keys = append(e.Keys, key)
	e.Values = append(e.Values, value)
}

func (e *recordingEmitter) find(key string) (string, bool) {
	for i, k := range e.Keys {
		if k == key {
			return e.Values[i], true
		}
	}
	return "", false
}

func decodeStandalone(payload []byte, tables *Tables) (*recordingEmitter, error) {
	chunk := NewChunk(payload)
	registry := NewTemplateRegistry()
	decoder := NewDecoder(chunk, registry, tables)
	emitter := &recordingEmitter{}
	err := decoder.DecodeRecord(0, uint32(len(payload)), emitter)
	return emitter, err
}
