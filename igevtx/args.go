package igevtx

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// filetimeEpochDiff is the number of 100-ns ticks between the
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochDiff = 116444736000000000

func quoteString(s string) string {
	return "'" + s + "'"
}

func hexDump(buf []byte) string {
	var b strings.Builder
	b.Grow(len(buf) * 2)
	for _, by := range buf {
		fmt.Fprintf(&b, "%02X", by)
	}
	return b.String()
}

func formatGUID(g GUID) string {
	return fmt.Sprintf("%08X-%02X-%02X-%02X%02X%02X%02X%02X%02X%02X%02X",
		g.D1, g.W1, g.W2,
		g.B[0], g.B[1], g.B[2], g.B[3],
		g.B[4], g.B[5], g.B[6], g.B[7])
}

// formatFileTime converts a Windows FILETIME (100-ns ticks since
// 1601-01-01 UTC) to "YYYY.MM.DD-HH:MM:SS" UTC. Values that would
// predate the Unix epoch fall back to a zero-padded hex rendering.
func formatFileTime(ft uint64) string {
	if ft < filetimeEpochDiff {
		return fmt.Sprintf("%016X", ft)
	}
	unixSeconds := (int64(ft) - filetimeEpochDiff) / 10000000
	return time.Unix(unixSeconds, 0).UTC().Format("2006.01.02-15:04:05")
}

// decodeSID decodes the SID argument type: a revision byte, a
// sub-authority count byte, a 6-byte big-endian authority, and as many
// little-endian u32 sub-authorities as fit in the remaining argument
// length.
func (ctx *parseContext) decodeSID(length uint16) (string, bool, error) {
	if length < 8 {
		return "", false, errors.New("SID argument shorter than its header")
	}
	revision, err := ctx.cursor.ReadU8()
	if err != nil {
		return "", false, err
	}
	if _, err := ctx.cursor.ReadU8(); err != nil { // sub-authority count, unused
		return "", false, err
	}
	authorityBytes, err := ctx.cursor.ReadBytes(6)
	if err != nil {
		return "", false, err
	}
	var authority uint64
	for _, b := range authorityBytes {
		authority = authority<<8 | uint64(b)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", revision, authority)

	remaining := int(length) - 8
	for remaining >= 4 {
		sub, err := ctx.cursor.ReadU32()
		if err != nil {
			return "", false, err
		}
		fmt.Fprintf(&b, "-%d", sub)
		remaining -= 4
	}
	if remaining > 0 {
		if err := ctx.cursor.Skip(remaining); err != nil {
			return "", false, err
		}
	}
	return b.String(), true, nil
}

// decodeArgument renders one argument-map entry by its actual runtime
// type. length is always taken from the argument map, never from the
// declared type, so every branch consumes exactly length bytes
// regardless of how it renders them.
func (ctx *parseContext) decodeArgument(key string, argType uint16, length uint16) (value string, emit bool, err error) {
	start := ctx.cursor.Position()
	arg, err := ctx.cursor.ReadBytes(int(length))
	if err != nil {
		return "", false, err
	}
	outer := ctx.cursor
	ctx.cursor = NewCursor(arg, start)
	defer func() { ctx.cursor = outer }()

	switch argType {
	case 0x01: // UTF-16LE string, length/2 code units, no terminator
		units, err := ctx.cursor.ReadU16Array(int(length) / 2)
		if err != nil {
			return "", false, err
		}
		return quoteString(decodeUTF16LE(units)), true, nil

	case 0x04: // u8
		v, err := ctx.cursor.ReadU8()
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%02d", v), true, nil

	case 0x06: // u16
		v, err := ctx.cursor.ReadU16()
		if err != nil {
			return "", false, err
		}
		s := fmt.Sprintf("%04d", v)
		if key == "EventID" {
			if desc, ok := ctx.decoder.Tables.EventDescriptions[v]; ok {
				s += fmt.Sprintf(" (%s)", desc)
			}
		}
		return s, true, nil

	case 0x08: // u32
		v, err := ctx.cursor.ReadU32()
		if err != nil {
			return "", false, err
		}
		s := fmt.Sprintf("%08d", v)
		if key == "LogonType" && v <= 11 {
			if label := ctx.decoder.Tables.LogonTypes[v]; label != "" {
				s += fmt.Sprintf(" (%s)", label)
			}
		}
		return s, true, nil

	case 0x0A: // u64
		v, err := ctx.cursor.ReadU64()
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%016d", v), true, nil

	case 0x0E: // binary
		buf, err := ctx.cursor.ReadBytes(int(length))
		if err != nil {
			return "", false, err
		}
		return hexDump(buf), true, nil

	case 0x0F: // GUID
		g, err := ctx.cursor.ReadGUID()
		if err != nil {
			return "", false, err
		}
		return formatGUID(g), true, nil

	case 0x11: // FILETIME
		v, err := ctx.cursor.ReadU64()
		if err != nil {
			return "", false, err
		}
		return formatFileTime(v), true, nil

	case 0x13: // SID
		return ctx.decodeSID(length)

	case 0x14: // HexInt32
		v, err := ctx.cursor.ReadU32()
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%08X", v), true, nil

	case 0x15: // HexInt64
		v, err := ctx.cursor.ReadU64()
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%016X", v), true, nil

	case 0x21: // nested BinXml
		pos := ctx.cursor.Position()
		rendered := ctx.decodeNestedBinXML(pos, length)
		if err := ctx.cursor.Skip(int(length)); err != nil {
			return "", false, err
		}
		return rendered, true, nil

	case 0x00: // void
		if err := ctx.cursor.Skip(int(length)); err != nil {
			return "", false, err
		}
		return "", false, nil

	default: // unknown, non-zero type
		if err := ctx.cursor.Skip(int(length)); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("'…//%d[%d]'", argType, length), true, nil
	}
}

// decodeNestedBinXML decodes a type-0x21 argument: a bounded region of
// BinXML embedded inside the current stream. Failures are swallowed
// for best-effort nested rendering, and the outer cursor always
// advances by length regardless of the outcome.
func (ctx *parseContext) decodeNestedBinXML(offset uint32, length uint16) string {
	if ctx.depth+1 > maxRecursionDepth {
		return ""
	}
	body, err := ctx.decoder.Chunk.Slice(offset, uint32(length))
	if err != nil {
		return ""
	}
	inner := &parseContext{
		decoder: ctx.decoder,
		cursor:  NewCursor(body, offset),
		depth:   ctx.depth + 1,
	}
	emitter := NewDictEmitter()
	if err := inner.run(emitter); err != nil {
		return ""
	}
	var b strings.Builder
	for _, k := range emitter.Dict.Keys() {
		v, _ := emitter.Dict.Get(k)
		fmt.Fprintf(&b, "%s:%v, ", k, v)
	}
	return b.String()
}
