package igevtx

import "github.com/pkg/errors"

type argMapEntry struct {
	Length uint16
	Type   uint16
}

// templateInstance resolves (or, on first sight, materializes) the
// referenced template, emits its fixed pairs, then binds the
// instance's argument vector to the template's placeholders by
// argument-map index.
func (ctx *parseContext) templateInstance(emitter Emitter) error {
	marker, err := ctx.cursor.ReadU8()
	if err != nil {
		return err
	}
	if marker != 0x01 {
		return errors.New("malformed template instance: expected 0x01 marker byte")
	}
	shortID, err := ctx.cursor.ReadU32()
	if err != nil {
		return err
	}
	if _, err := ctx.cursor.ReadU32(); err != nil { // reserved length, unused
		return err
	}
	numArgs, err := ctx.cursor.ReadU32()
	if err != nil {
		return err
	}

	tmpl, known := ctx.decoder.Registry.Lookup(shortID)
	if !known {
		if _, err := ctx.cursor.ReadBytes(16); err != nil { // long id, unused
			return err
		}
		bodyLen, err := ctx.cursor.ReadU32()
		if err != nil {
			return err
		}
		bodyStart := ctx.cursor.Position()

		inserted, ok := ctx.decoder.Registry.Insert(shortID)
		if ok {
			if ctx.depth+1 > maxRecursionDepth {
				return errors.New("template body recursion depth exceeded")
			}
			body, err := ctx.decoder.Chunk.Slice(bodyStart, bodyLen)
			if err != nil {
				return err
			}
			inner := &parseContext{
				decoder:  ctx.decoder,
				cursor:   NewCursor(body, bodyStart),
				template: inserted,
				depth:    ctx.depth + 1,
			}
			if err := inner.run(nopEmitter{}); err != nil {
				return errors.Wrap(err, "parsing template body")
			}
			tmpl = inserted
		}

		if err := ctx.cursor.Skip(int(bodyLen)); err != nil {
			return err
		}
		if numArgs, err = ctx.cursor.ReadU32(); err != nil {
			return err
		}
	}

	if tmpl != nil {
		for _, kv := range tmpl.FixedPairs {
			emitter.Emit(kv.Key, quoteString(kv.Value))
		}
	}

	argMap := make([]argMapEntry, numArgs)
	for i := range argMap {
		length, err := ctx.cursor.ReadU16()
		if err != nil {
			return err
		}
		typ, err := ctx.cursor.ReadU16()
		if err != nil {
			return err
		}
		argMap[i] = argMapEntry{Length: length, Type: typ}
	}

	for i, entry := range argMap {
		var pair *ArgPair
		if tmpl != nil {
			pair = tmpl.findArgPair(uint16(i))
		}
		if pair == nil {
			if err := ctx.cursor.Skip(int(entry.Length)); err != nil {
				return err
			}
			continue
		}
		value, emit, err := ctx.decodeArgument(pair.Key, entry.Type, entry.Length)
		if err != nil {
			return err
		}
		if emit {
			emitter.Emit(pair.Key, value)
		}
	}
	return nil
}
