package vm

// ---------------------------------------------------------------------------
// Symbol interning
// ---------------------------------------------------------------------------

// SymbolTable interns symbol names. Symbol values carry the table ID in
// their payload, so two symbols with the same name are Eq. The table is
// heap-independent: collections never move or renumber symbols.
//
// Single mutator thread by contract; not synchronized.
type SymbolTable struct {
	byName map[string]uint32 // name -> ID
	byID   []string          // ID -> name
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]uint32),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the symbol value for a name, creating a new ID if needed.
func (st *SymbolTable) Intern(name string) Value {
	if id, ok := st.byName[name]; ok {
		return FromSymbolID(id)
	}
	id := uint32(len(st.byID))
	st.byID = append(st.byID, name)
	st.byName[name] = id
	return FromSymbolID(id)
}

// Name returns the name of a symbol value, or false if v is not a symbol
// or its ID is unknown to this table.
func (st *SymbolTable) Name(v Value) (string, bool) {
	if v.Tag() != TagSymbol {
		return "", false
	}
	id := v.SymbolID()
	if int(id) >= len(st.byID) {
		return "", false
	}
	return st.byID[id], true
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	return len(st.byID)
}

// names returns the table contents in ID order, for image snapshots.
func (st *SymbolTable) names() []string {
	out := make([]string, len(st.byID))
	copy(out, st.byID)
	return out
}

// restore rebuilds the table from an ID-ordered name list.
func (st *SymbolTable) restore(names []string) {
	st.byID = make([]string, len(names))
	copy(st.byID, names)
	st.byName = make(map[string]uint32, len(names))
	for id, name := range names {
		st.byName[name] = uint32(id)
	}
}
