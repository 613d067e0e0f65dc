package igevtx

import "github.com/pkg/errors"

// Chunk is the decoder's view of one 64 KiB EVTX chunk: the raw bytes
// (used both for bounded sub-cursors and for out-of-place name
// lookups) plus a cache of names already resolved from this chunk's
// name table. A chunk's name cache and template registry are both
// scoped to its lifetime and never shared with another chunk.
type Chunk struct {
	Bytes []byte
	names map[uint32]string
}

// NewChunk wraps a chunk's raw bytes for decoding.
func NewChunk(bytes []byte) *Chunk {
	return &Chunk{Bytes: bytes, names: make(map[uint32]string)}
}

// Slice returns the bounded region [offset, offset+length) of the
// chunk, erroring if it runs past the chunk's end.
func (c *Chunk) Slice(offset, length uint32) ([]byte, error) {
	end := offset + length
	if end < offset || int(end) > len(c.Bytes) {
		return nil, errors.Errorf("region [0x%X,0x%X) out of chunk bounds", offset, end)
	}
	return c.Bytes[offset:end], nil
}

// cursorAt builds a temporary cursor starting at an arbitrary
// chunk-relative offset, spanning to the end of the chunk buffer. Name
// bodies are read through it without knowing their length in advance.
func (c *Chunk) cursorAt(offset uint32) (Cursor, error) {
	if int(offset) > len(c.Bytes) {
		return Cursor{}, errors.Errorf("name offset 0x%X out of chunk bounds", offset)
	}
	return NewCursor(c.Bytes[offset:], offset), nil
}

func (c *Chunk) cachedName(offset uint32) (string, bool) {
	name, ok := c.names[offset]
	return name, ok
}

func (c *Chunk) cacheName(offset uint32, name string) {
	c.names[offset] = name
}

// readNameBody reads a name entry at the cursor's current position: a
// forward-link (ignored), a hash (ignored), then a length-prefixed,
// null-terminated UTF-16LE string.
func readNameBody(c *Cursor) (string, error) {
	if err := c.Skip(4); err != nil { // forward-link, irrelevant to decoding
		return "", err
	}
	if _, err := c.ReadU16(); err != nil { // hash, irrelevant to decoding
		return "", err
	}
	return readLengthPrefixedUTF16(c, true)
}

// readName reads a chunk-relative offset from the active cursor, then
// resolves it either in place (the common case right after a template
// places a fresh name) or via a temporary cursor elsewhere in the
// chunk (a reference to an already-placed name). Resolved names are
// cached per chunk-relative offset so a later reference to the same
// offset is free.
//
// Name resolution failures are tolerated: they yield an empty name
// rather than aborting the surrounding decode.
func (ctx *parseContext) readName() (string, error) {
	chunkOffset, err := ctx.cursor.ReadU32()
	if err != nil {
		return "", err
	}

	if ctx.cursor.Position() == chunkOffset {
		name, err := readNameBody(&ctx.cursor)
		if err != nil {
			return "", nil
		}
		ctx.decoder.Chunk.cacheName(chunkOffset, name)
		return name, nil
	}

	if name, ok := ctx.decoder.Chunk.cachedName(chunkOffset); ok {
		return name, nil
	}

	tmp, err := ctx.decoder.Chunk.cursorAt(chunkOffset)
	if err != nil {
		return "", nil
	}
	name, err := readNameBody(&tmp)
	if err != nil {
		return "", nil
	}
	ctx.decoder.Chunk.cacheName(chunkOffset, name)
	return name, nil
}
