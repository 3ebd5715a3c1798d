// Package raw holds the low-level PDF object model shared by the parser,
// the content editor and the writer.
package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Resolver maps indirect references to their objects.
type Resolver interface {
	Resolve(ref ObjectRef) (Object, error)
}

// Deref follows references until a direct object is reached. A nil resolver
// returns o unchanged.
func Deref(r Resolver, o Object) (Object, error) {
	for i := 0; i < 32; i++ {
		ref, ok := o.(RefObj)
		if !ok || r == nil {
			return o, nil
		}
		next, err := r.Resolve(ref.R)
		if err != nil {
			return nil, err
		}
		o = next
	}
	return nil, fmt.Errorf("reference chain too deep")
}

// AsDict returns the dictionary of a dict or stream object.
func AsDict(o Object) (*DictObj, bool) {
	switch v := o.(type) {
	case *DictObj:
		return v, v != nil
	case *StreamObj:
		return v.Dict, v.Dict != nil
	}
	return nil, false
}

func AsArray(o Object) (*ArrayObj, bool) {
	a, ok := o.(*ArrayObj)
	return a, ok && a != nil
}

func AsName(o Object) (string, bool) {
	n, ok := o.(NameObj)
	return n.Val, ok
}

func AsInt(o Object) (int64, bool) {
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func AsFloat(o Object) (float64, bool) {
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

// Floats converts an array of numbers. Non-numeric entries fail the whole
// conversion.
func Floats(o Object) ([]float64, bool) {
	a, ok := AsArray(o)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(a.Items))
	for _, it := range a.Items {
		f, ok := AsFloat(it)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Clone deep-copies containers. Leaves are immutable values and are shared.
func Clone(o Object) Object {
	switch v := o.(type) {
	case *DictObj:
		if v == nil {
			return v
		}
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = Clone(item)
		}
		return out
	case *ArrayObj:
		if v == nil {
			return v
		}
		out := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = Clone(item)
		}
		return out
	case *StreamObj:
		if v == nil {
			return v
		}
		d, _ := Clone(v.Dict).(*DictObj)
		return &StreamObj{Dict: d, Data: append([]byte(nil), v.Data...)}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...), Hex: v.Hex}
	}
	return o
}
