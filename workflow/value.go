package workflow

import (
	"encoding/json"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"

	"github.com/BaSui01/flowrun/types"
)

// ValueType names the type recorded next to every stored value.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeFloat   ValueType = "float"
	TypeBoolean ValueType = "boolean"
	TypeList    ValueType = "list"
	TypeObject  ValueType = "object"
)

// Valid reports whether t is a known type.
func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeList, TypeObject:
		return true
	}
	return false
}

// TypedValue is a value and its declared type. Integers are held as int64,
// floats as float64, lists as []any and objects as map[string]any.
type TypedValue struct {
	Value any       `json:"value"`
	Type  ValueType `json:"type"`
}

// NewTypedValue infers the type of v and normalises its representation.
func NewTypedValue(v any) (TypedValue, error) {
	switch x := v.(type) {
	case string:
		return TypedValue{Value: x, Type: TypeString}, nil
	case bool:
		return TypedValue{Value: x, Type: TypeBoolean}, nil
	case float64:
		return TypedValue{Value: x, Type: TypeFloat}, nil
	case float32:
		return TypedValue{Value: float64(x), Type: TypeFloat}, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return TypedValue{Value: i, Type: TypeInteger}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return TypedValue{}, typeMismatch("invalid number %q", x.String())
		}
		return TypedValue{Value: f, Type: TypeFloat}, nil
	case []any:
		return TypedValue{Value: x, Type: TypeList}, nil
	case map[string]any:
		return TypedValue{Value: x, Type: TypeObject}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return TypedValue{Value: rv.Int(), Type: TypeInteger}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return TypedValue{}, typeMismatch("integer %d overflows int64", u)
		}
		return TypedValue{Value: int64(u), Type: TypeInteger}, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return TypedValue{Value: out, Type: TypeList}, nil
	}
	return TypedValue{}, typeMismatch("unsupported value type %T", v)
}

// String renders the value the way it appears inside a prompt.
func (v TypedValue) String() string {
	switch x := v.Value.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	b, err := json.Marshal(v.Value)
	if err != nil {
		return ""
	}
	return string(b)
}

// ValueRef is the source of an input slot: a LiteralRef or an OutputRef.
type ValueRef interface {
	valueRef()
}

// LiteralRef embeds a fixed value.
type LiteralRef struct {
	Value TypedValue
}

// OutputRef points at a named output of another node.
type OutputRef struct {
	NodeID string
	Output string
}

func (LiteralRef) valueRef() {}
func (OutputRef) valueRef()  {}

// Literal builds a LiteralRef, inferring the value's type. Unsupported
// values yield a literal with no type, which graph construction rejects.
func Literal(v any) LiteralRef {
	tv, err := NewTypedValue(v)
	if err != nil {
		return LiteralRef{Value: TypedValue{Value: v}}
	}
	return LiteralRef{Value: tv}
}

// Ref builds an OutputRef.
func Ref(nodeID, output string) OutputRef {
	return OutputRef{NodeID: nodeID, Output: output}
}

// Resolve returns the value ref stands for. An OutputRef to an output not yet
// recorded fails with UNRESOLVED_REFERENCE.
func Resolve(ref ValueRef, store *OutputStore) (TypedValue, error) {
	switch r := ref.(type) {
	case LiteralRef:
		return r.Value, nil
	case OutputRef:
		if v, ok := store.Get(r.NodeID, r.Output); ok {
			return v, nil
		}
		return TypedValue{}, types.Errorf(types.ErrUnresolvedReference,
			"output %q of node %q has not been produced", r.Output, r.NodeID)
	default:
		return TypedValue{}, types.Errorf(types.ErrStructural, "unknown value reference %T", ref)
	}
}

// OutputStore is the append-only record of node outputs for one run.
type OutputStore struct {
	data map[string]map[string]TypedValue
}

// NewOutputStore creates an empty store.
func NewOutputStore() *OutputStore {
	return &OutputStore{data: make(map[string]map[string]TypedValue)}
}

// Get returns a single recorded output.
func (s *OutputStore) Get(nodeID, name string) (TypedValue, bool) {
	if s == nil {
		return TypedValue{}, false
	}
	v, ok := s.data[nodeID][name]
	return v, ok
}

// Has reports whether nodeID has recorded outputs.
func (s *OutputStore) Has(nodeID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.data[nodeID]
	return ok
}

// Record appends the outputs of nodeID. A node records once per run.
func (s *OutputStore) Record(nodeID string, outputs map[string]TypedValue) error {
	if s.Has(nodeID) {
		return types.NewError(types.ErrDuplicateOutput, "outputs already recorded").WithNode(nodeID)
	}
	s.data[nodeID] = maps.Clone(outputs)
	return nil
}

// NodeIDs returns the IDs with recorded outputs, sorted.
func (s *OutputStore) NodeIDs() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// Snapshot returns a copy of the store's contents.
func (s *OutputStore) Snapshot() map[string]map[string]TypedValue {
	out := make(map[string]map[string]TypedValue, len(s.data))
	for id, outputs := range s.data {
		out[id] = maps.Clone(outputs)
	}
	return out
}
