// Package kinds packs an element's type id together with the ids of its
// bases into a single uint64 so that "is a" checks are a few shifts and masks.
package kinds

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids packed above the element's own id.
func Bases(t uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

// Kind builds a kind from its own id and the kinds it derives from.
func Kind(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})

	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind is, or derives from, any of bases.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

// Name returns a readable name for the most specific known kind.
func Name(kind uint64) string {
	if name, ok := names[kind&idMask]; ok {
		return name
	}
	return "unknown"
}

var (
	Null    = Kind(0)
	Element = Kind(1)

	StateNode = Kind(2, Element)
	Atomic    = Kind(3, StateNode)
	Compound  = Kind(4, StateNode)
	Parallel  = Kind(5, StateNode)
	Final     = Kind(6, Atomic)
	Machine   = Kind(7, Compound)

	Transition = Kind(8, Element)
	Internal   = Kind(9, Transition)
	External   = Kind(10, Transition)
	Local      = Kind(11, Transition)
	Self       = Kind(12, Transition)

	Event      = Kind(13, Element)
	Raised     = Kind(14, Event)
	DoneEvent  = Kind(15, Raised)
	ErrorEvent = Kind(16, Event)

	Behavior   = Kind(17, Element)
	Constraint = Kind(18, Element)

	Effect = Kind(19, Element)
	Assign = Kind(20, Effect)
	Emit   = Kind(21, Effect)
	SendTo = Kind(22, Effect)
	Raise  = Kind(23, Effect)
)

var names = map[uint64]string{
	0: "null", 1: "element",
	2: "state", 3: "atomic", 4: "compound", 5: "parallel", 6: "final", 7: "machine",
	8: "transition", 9: "internal", 10: "external", 11: "local", 12: "self",
	13: "event", 14: "raised", 15: "done", 16: "error",
	17: "behavior", 18: "constraint",
	19: "effect", 20: "assign", 21: "emit", 22: "sendTo", 23: "raise",
}
