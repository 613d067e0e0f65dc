package igevtx

import "github.com/pkg/errors"

const (
	// maxNameStackDepth bounds the element/attribute name stack; a
	// push past this depth is silently dropped rather than growing
	// the stack without bound on adversarial input.
	maxNameStackDepth = 20

	// maxRecursionDepth bounds how deeply template bodies and nested
	// BinXml arguments (type 0x21) may recurse into one another,
	// independent of the name-stack limit, to defend against crafted
	// inputs that chain templates into each other.
	maxRecursionDepth = 16
)

// xmlState is the two-state XML sub-mode a BinXML token stream walks
// through: Normal, or inside an attribute's value.
type xmlState int

const (
	stateNormal xmlState = iota
	stateInAttribute
)

// Emitter is the sink a decoded record's key/value pairs are written
// to, in emission order.
type Emitter interface {
	Emit(key, value string)
}

type nopEmitter struct{}

func (nopEmitter) Emit(key, value string) {}

// Decoder walks BinXML token streams belonging to one chunk. It owns
// the chunk's byte buffer (for name resolution) and its template
// registry; the caller builds a fresh decoder, chunk and registry for
// each chunk.
type Decoder struct {
	Chunk    *Chunk
	Registry *TemplateRegistry
	Tables   *Tables
}

// NewDecoder builds a decoder over one chunk's buffer, registry and
// injected lookup tables.
func NewDecoder(chunk *Chunk, registry *TemplateRegistry, tables *Tables) *Decoder {
	return &Decoder{Chunk: chunk, Registry: registry, Tables: tables}
}

// DecodeRecord decodes one record's BinXML payload — the bytes of the
// owning chunk bounded to [payloadOffset, payloadOffset+payloadLength)
// — and emits its key/value pairs to emitter.
func (d *Decoder) DecodeRecord(payloadOffset, payloadLength uint32, emitter Emitter) error {
	body, err := d.Chunk.Slice(payloadOffset, payloadLength)
	if err != nil {
		return err
	}
	ctx := &parseContext{
		decoder: d,
		cursor:  NewCursor(body, payloadOffset),
	}
	return ctx.run(emitter)
}

// parseContext is per-active-decode state: short-lived, created fresh
// for a record body, a template body, or a nested BinXml argument. It
// may share its chunk's registry by reference but always owns its own
// cursor.
type parseContext struct {
	decoder     *Decoder
	cursor      Cursor
	state       xmlState
	nameStack   []string
	cachedValue string
	template    *TemplateDescription // template currently being populated, or nil
	depth       int                  // recursion depth; a nested context gets depth+1
}

func (ctx *parseContext) pushName(name string) {
	if len(ctx.nameStack) >= maxNameStackDepth {
		return
	}
	ctx.nameStack = append(ctx.nameStack, name)
}

func (ctx *parseContext) popName() {
	if len(ctx.nameStack) == 0 {
		return
	}
	ctx.nameStack = ctx.nameStack[:len(ctx.nameStack)-1]
}

func (ctx *parseContext) top() string {
	if len(ctx.nameStack) == 0 {
		return ""
	}
	return ctx.nameStack[len(ctx.nameStack)-1]
}

func (ctx *parseContext) second() (string, bool) {
	if len(ctx.nameStack) < 2 {
		return "", false
	}
	return ctx.nameStack[len(ctx.nameStack)-2], true
}

// setState applies an XML sub-state transition: leaving InAttribute
// for Normal pops exactly the attribute's name. A redundant transition
// to the same state is a no-op.
func (ctx *parseContext) setState(s xmlState) {
	if ctx.state == stateInAttribute && s == stateNormal {
		ctx.popName()
	}
	ctx.state = s
}

// run walks the token stream until EOF, exhaustion, or a fatal token
// error, dispatching on the tag byte at each step.
func (ctx *parseContext) run(emitter Emitter) error {
	for {
		if ctx.cursor.Remaining() <= 0 {
			return nil
		}
		tag, err := ctx.cursor.ReadU8()
		if err != nil {
			return nil
		}
		switch tag {
		case 0x00: // EOF
			return nil
		case 0x01, 0x41: // OpenStartElementToken
			if err := ctx.openStartElement(tag == 0x41); err != nil {
				return err
			}
		case 0x02: // CloseStartElementToken
			ctx.setState(stateNormal)
		case 0x03, 0x04: // CloseEmptyElementToken, CloseElementToken
			ctx.state = stateNormal
			ctx.popName()
		case 0x05, 0x45: // ValueTextToken
			if err := ctx.valueText(); err != nil {
				return err
			}
		case 0x06, 0x46: // AttributeToken
			if err := ctx.attribute(); err != nil {
				return err
			}
		case 0x07, 0x47, 0x08, 0x48, 0x09, 0x49, 0x0A, 0x0B:
			// CDATA/CharRef/EntityRef/PITarget/PIData: tolerated, not emitted
		case 0x0C: // TemplateInstanceToken
			if err := ctx.templateInstance(emitter); err != nil {
				return err
			}
		case 0x0D, 0x0E: // Normal/Optional SubstitutionToken
			if err := ctx.substitution(); err != nil {
				return err
			}
		case 0x0F: // FragmentHeaderToken
			if err := ctx.cursor.Skip(3); err != nil {
				return err
			}
		default:
			return errors.Errorf("unknown BinXML tag 0x%02X", tag)
		}
	}
}

func (ctx *parseContext) openStartElement(hasAttrList bool) error {
	if _, err := ctx.cursor.ReadU16(); err != nil { // dependency id, unused
		return err
	}
	if _, err := ctx.cursor.ReadU32(); err != nil { // element length, unused
		return err
	}
	name, err := ctx.readName()
	if err != nil {
		return err
	}
	if hasAttrList {
		if _, err := ctx.cursor.ReadU32(); err != nil { // attribute-list length, unused
			return err
		}
	}
	ctx.pushName(name)
	return nil
}

func (ctx *parseContext) attribute() error {
	name, err := ctx.readName()
	if err != nil {
		return err
	}
	ctx.pushName(name)
	ctx.setState(stateInAttribute)
	return nil
}

// properKeyName resolves the key a value or placeholder should be
// emitted under: ordinarily the top of the name stack, but the
// <Data Name="x">y</Data> idiom substitutes the cached text value
// seen under the preceding Name attribute. The match is case-sensitive
// on the English element names "Data" and "EventData"; element names
// spelled any other way are not matched.
func (ctx *parseContext) properKeyName(key string, upper string, hasUpper bool) string {
	if key == "Data" && hasUpper && upper == "EventData" && ctx.cachedValue != "" {
		return ctx.cachedValue
	}
	return key
}

// valueText implements ValueTextToken: the raw text is always cached
// (for a possible following <Data Name="x"> substitution), and is
// registered as a fixed pair on the active template unless it is
// itself the Name attribute's own value (consumed implicitly by the
// rule above).
func (ctx *parseContext) valueText() error {
	if _, err := ctx.cursor.ReadU8(); err != nil { // string-type discriminant, opaque
		return err
	}
	s, err := readLengthPrefixedUTF16(&ctx.cursor, false)
	if err != nil {
		return err
	}

	key := ctx.top()
	upper, hasUpper := ctx.second()
	suppressed := key == "Name" && hasUpper && upper == "Data"
	properKey := ctx.properKeyName(key, upper, hasUpper)

	ctx.cachedValue = s

	if !suppressed && ctx.template != nil {
		ctx.template.registerFixedPair(properKey, s)
	}
	ctx.setState(stateNormal)
	return nil
}

// substitution implements NormalSubstitutionToken/OptionalSubstitutionToken:
// a placeholder referring to a positional argument, keyed by the
// current proper key name.
func (ctx *parseContext) substitution() error {
	id, err := ctx.cursor.ReadU16()
	if err != nil {
		return err
	}
	valueType, err := ctx.cursor.ReadU8()
	if err != nil {
		return err
	}
	if valueType == 0 {
		if valueType, err = ctx.cursor.ReadU8(); err != nil {
			return err
		}
	}

	key := ctx.top()
	upper, hasUpper := ctx.second()
	properKey := ctx.properKeyName(key, upper, hasUpper)

	if ctx.template != nil {
		ctx.template.registerArgPair(properKey, uint16(valueType), id)
	}
	ctx.setState(stateNormal)
	return nil
}
