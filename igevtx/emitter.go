package igevtx

import "github.com/Velocidex/ordereddict"

// DictEmitter accumulates a record's emitted key/value pairs into an
// ordereddict.Dict, preserving emission order — insertion order — for
// iteration and downstream JSON/CSV serialization. This is the
// default Emitter used by ParseFile; a host may supply any other sink
// that implements Emitter.
type DictEmitter struct {
	Dict *ordereddict.Dict
}

// NewDictEmitter creates an emitter backed by an empty ordered dict.
func NewDictEmitter() *DictEmitter {
	return &DictEmitter{Dict: ordereddict.NewDict()}
}

// Emit records key/value, overwriting any earlier value under the
// same key but leaving that key's position in iteration order intact.
func (e *DictEmitter) Emit(key, value string) {
	e.Dict.Set(key, value)
}
