package jewel

// TypeFamily tags every type-info entry.
type TypeFamily int

const (
	FamilyUndefined TypeFamily = iota
	FamilyIntegral
	FamilyClass
	FamilyInterface
	FamilyThread
	FamilyDelegate
)

func (f TypeFamily) String() string {
	switch f {
	case FamilyIntegral:
		return "integral"
	case FamilyClass:
		return "class"
	case FamilyInterface:
		return "interface"
	case FamilyThread:
		return "thread"
	case FamilyDelegate:
		return "delegate"
	}
	return "undefined"
}

// Predefined type ids. The mapping name -> id is interned and stable
// across a compile; entries above numPredefTypes are append-only
// within a restore-point window.
const (
	TypeVar = iota // typeless 'var'
	TypeNull
	TypeInt
	TypeFloat
	TypeString
	TypeArray
	TypeThread
	TypeDelegate // generic delegate used by anonymous lambdas
	TypeGlobal   // the implicit __global class

	numPredefTypes
)

// methodInfo holds the special-method function indexes of a class, or
// -1 where the class does not define one.
type methodInfo struct {
	Ctor  int
	Cctor int
	Dtor  int
	ToStr int
}

func noMethodInfo() methodInfo {
	return methodInfo{Ctor: -1, Cctor: -1, Dtor: -1, ToStr: -1}
}

// TypeInfo describes one type at runtime. The v-table is kept as an
// explicit array and serialized length-prefixed inside the type's own
// record so indices rebuild without pointer fix-ups.
type TypeInfo struct {
	TypeID       int
	BaseID       int // inherited interface, 0 if none
	HybridID     int // implementation base of a hybrid, 0 if none
	Family       TypeFamily
	Native       bool
	NameOffs     int
	InstanceSize int // number of handles of a script instance
	Vtable       []int
	WeakSlots    []int // member slots declared weak: stored uncounted
	Methods      methodInfo

	// proc is set for native types only and never serialized; after a
	// chunk load the host must re-register its native types.
	proc NativeTypeProc
}

// typeRegistry owns the type-info segment plus the interned
// name-to-id mapping.
type typeRegistry struct {
	entries []TypeInfo
	byName  map[string]int
}

func newTypeRegistry(cstr *cstrSegment) *typeRegistry {
	tr := &typeRegistry{byName: make(map[string]int)}
	predef := []struct {
		name   string
		family TypeFamily
	}{
		{"var", FamilyUndefined},
		{"null", FamilyUndefined},
		{"int", FamilyIntegral},
		{"float", FamilyIntegral},
		{"string", FamilyIntegral},
		{"array", FamilyClass},
		{"thread", FamilyThread},
		{"delegate", FamilyDelegate},
		{"__global", FamilyClass},
	}
	for id, p := range predef {
		tr.entries = append(tr.entries, TypeInfo{
			TypeID:   id,
			Family:   p.family,
			NameOffs: cstr.addString(p.name),
			Methods:  noMethodInfo(),
		})
		tr.byName[p.name] = id
	}
	return tr
}

// lookup returns the id for a type name, or -1.
func (tr *typeRegistry) lookup(name string) int {
	if id, ok := tr.byName[name]; ok {
		return id
	}
	return -1
}

// add registers a new type name and returns its entry. Registering an
// existing name returns the existing entry unchanged.
func (tr *typeRegistry) add(cstr *cstrSegment, name string, family TypeFamily) *TypeInfo {
	if id, ok := tr.byName[name]; ok {
		return &tr.entries[id]
	}
	id := len(tr.entries)
	tr.entries = append(tr.entries, TypeInfo{
		TypeID:   id,
		Family:   family,
		NameOffs: cstr.addString(name),
		Methods:  noMethodInfo(),
	})
	tr.byName[name] = id
	return &tr.entries[id]
}

func (tr *typeRegistry) get(id int) *TypeInfo {
	if id < 0 || id >= len(tr.entries) {
		return nil
	}
	return &tr.entries[id]
}

func (tr *typeRegistry) used() int { return len(tr.entries) }

func (tr *typeRegistry) truncate(cstr *cstrSegment, used int) {
	if used < numPredefTypes {
		used = numPredefTypes
	}
	for i := used; i < len(tr.entries); i++ {
		delete(tr.byName, cstr.stringAt(tr.entries[i].NameOffs))
	}
	tr.entries = tr.entries[:used]
}

// isWeakSlot reports whether a member slot holds an uncounted
// reference.
func (ti *TypeInfo) isWeakSlot(slot int) bool {
	for _, w := range ti.WeakSlots {
		if w == slot {
			return true
		}
	}
	return false
}

// isDescendantOf reports whether type id or one of its ancestor
// interfaces equals base.
func (tr *typeRegistry) isDescendantOf(id, base int) bool {
	for id != 0 {
		if id == base {
			return true
		}
		ti := tr.get(id)
		if ti == nil {
			return false
		}
		id = ti.BaseID
	}
	return id == base
}
