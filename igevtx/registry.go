package igevtx

// maxTemplatesPerChunk bounds how many distinct template short ids a
// single chunk's registry will hold; a chunk that exceeds this is
// almost certainly corrupt, and further template instances referring
// to new ids are skipped rather than grown without bound.
const maxTemplatesPerChunk = 256

// KV is a literal key/value pair observed while parsing a template
// body. Duplicate keys are legal: later insertions never overwrite
// earlier ones, so fixed pairs are kept as an ordered sequence rather
// than a map.
type KV struct {
	Key   string
	Value string
}

// ArgPair is a placeholder descriptor bound into a template body: the
// key it should be emitted under, and the declared type and argument
// index recorded at the substitution token.
type ArgPair struct {
	Key          string
	DeclaredType uint16
	ArgIndex     uint16
}

// TemplateDescription is everything learned about a template the
// first time its body is parsed: the literal text seen along the way
// (FixedPairs) and the placeholders waiting for argument values
// (ArgPairs), both in source order.
type TemplateDescription struct {
	ShortID    uint32
	FixedPairs []KV
	ArgPairs   []ArgPair
}

func newTemplateDescription(shortID uint32) *TemplateDescription {
	return &TemplateDescription{ShortID: shortID}
}

func (t *TemplateDescription) registerFixedPair(key, value string) {
	t.FixedPairs = append(t.FixedPairs, KV{Key: key, Value: value})
}

func (t *TemplateDescription) registerArgPair(key string, declaredType, argIndex uint16) {
	t.ArgPairs = append(t.ArgPairs, ArgPair{Key: key, DeclaredType: declaredType, ArgIndex: argIndex})
}

// findArgPair returns the first registered arg-pair for the given
// argument-map index, or nil if none was registered. Spec allows more
// than one placeholder to share an index in corrupt input; only the
// first is honored, matching "find the first arg-pair" in the binder.
func (t *TemplateDescription) findArgPair(argIndex uint16) *ArgPair {
	for i := range t.ArgPairs {
		if t.ArgPairs[i].ArgIndex == argIndex {
			return &t.ArgPairs[i]
		}
	}
	return nil
}

// TemplateRegistry is a chunk-scoped cache of template definitions,
// keyed by 32-bit short id. It is created at chunk start, mutated in
// place as templates are first observed, and discarded before the next
// chunk (decodeChunk builds a new one per chunk) — never shared across
// chunks.
type TemplateRegistry struct {
	byID map[uint32]*TemplateDescription
}

// NewTemplateRegistry creates an empty registry for one chunk.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{byID: make(map[uint32]*TemplateDescription)}
}

// Lookup returns the cached description for shortID, if any. A linear
// scan would work just as well given the small cardinality involved;
// a map is the idiomatic Go choice for the same job.
func (r *TemplateRegistry) Lookup(shortID uint32) (*TemplateDescription, bool) {
	t, ok := r.byID[shortID]
	return t, ok
}

// Insert creates and registers a new, empty description for shortID.
// It returns ok=false once the registry is at capacity; the caller
// treats that as a soft failure and skips the template instance
// instead of growing the registry further.
func (r *TemplateRegistry) Insert(shortID uint32) (desc *TemplateDescription, ok bool) {
	if len(r.byID) >= maxTemplatesPerChunk {
		return nil, false
	}
	t := newTemplateDescription(shortID)
	r.byID[shortID] = t
	return t, true
}

// Reset drops all entries, leaving the registry as empty as at chunk
// start.
func (r *TemplateRegistry) Reset() {
	r.byID = make(map[uint32]*TemplateDescription)
}
