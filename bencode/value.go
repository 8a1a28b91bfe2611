package bencode

import "bytes"

// Kind tags which of the four bencode productions a Value holds.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dictionary"
	default:
		return "invalid"
	}
}

// Value is a decoded bencode value. Only the field matching Kind is set.
//
// Dictionary entries keep the order they were decoded in; Encode sorts them.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict []Entry

	// Raw is the exact input slice this value was decoded from.
	// It is nil for values built in memory.
	Raw []byte
}

// Entry is a single dictionary key/value pair.
type Entry struct {
	Key   []byte
	Value Value
}

func NewInt(n int64) Value {
	return Value{Kind: KindInt, Int: n}
}

func NewString(s string) Value {
	return Value{Kind: KindString, Str: []byte(s)}
}

func NewBytes(b []byte) Value {
	return Value{Kind: KindString, Str: b}
}

func NewList(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

func NewDict(entries ...Entry) Value {
	if entries == nil {
		entries = []Entry{}
	}
	return Value{Kind: KindDict, Dict: entries}
}

// Get looks up key in a dictionary. It reports false for non-dictionaries.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	for _, e := range v.Dict {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal compares two values structurally, ignoring Raw and the order of
// dictionary entries.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindString:
		return bytes.Equal(v.Str, o.Str)
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.Dict) != len(o.Dict) {
			return false
		}
		a, b := sortedEntries(v.Dict), sortedEntries(o.Dict)
		for i := range a {
			if !bytes.Equal(a[i].Key, b[i].Key) || !a[i].Value.Equal(b[i].Value) {
				return false
			}
		}
		return true
	}
	return true
}
