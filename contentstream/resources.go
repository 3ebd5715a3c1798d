package contentstream

import "github.com/wudi/pdfmask/ir/raw"

// Resources looks up named resources of a content stream.
type Resources struct {
	Dict     *raw.DictObj
	resolver raw.Resolver
	fonts    map[string]*Font
}

func NewResources(r raw.Resolver, dict *raw.DictObj) *Resources {
	if dict == nil {
		dict = raw.Dict()
	}
	return &Resources{Dict: dict, resolver: r, fonts: make(map[string]*Font)}
}

func (res *Resources) Resolver() raw.Resolver { return res.resolver }

// Category returns a resource subdictionary such as /XObject, or nil.
func (res *Resources) Category(name string) *raw.DictObj {
	return dictOf(res.resolver, dictGet(res.Dict, name))
}

func (res *Resources) Font(name string) *Font {
	if f, ok := res.fonts[name]; ok {
		return f
	}
	var f *Font
	if obj, ok := res.Category("Font").Get(name); ok {
		f = LoadFont(res.resolver, obj)
	} else {
		f = DefaultFont()
	}
	res.fonts[name] = f
	return f
}

// XObject returns the named XObject stream and its reference, if indirect.
func (res *Resources) XObject(name string) (*raw.StreamObj, raw.ObjectRef, bool) {
	obj, ok := res.Category("XObject").Get(name)
	if !ok {
		return nil, raw.ObjectRef{}, false
	}
	var ref raw.ObjectRef
	if r, ok := obj.(raw.RefObj); ok {
		ref = r.R
	}
	stm, ok := deref(res.resolver, obj).(*raw.StreamObj)
	return stm, ref, ok
}

// XObjectSubtype returns /Image, /Form or "" for the named XObject.
func (res *Resources) XObjectSubtype(name string) string {
	stm, _, ok := res.XObject(name)
	if !ok {
		return ""
	}
	return nameOf(res.resolver, stm.Dict, "Subtype")
}

// Components returns the number of color components of a color space
// operand of cs/CS. Pattern spaces have none.
func (res *Resources) Components(space string) int {
	switch space {
	case "DeviceGray", "G", "CalGray", "Indexed", "I":
		return 1
	case "DeviceRGB", "RGB", "CalRGB", "Lab":
		return 3
	case "DeviceCMYK", "CMYK":
		return 4
	case "Pattern":
		return 0
	}
	obj := deref(res.resolver, dictGet(res.Category("ColorSpace"), space))
	return components(res.resolver, obj, 0)
}

func components(r raw.Resolver, obj raw.Object, depth int) int {
	if depth > 4 {
		return 1
	}
	if n, ok := raw.AsName(obj); ok {
		return NewResources(r, nil).Components(n)
	}
	arr, ok := raw.AsArray(obj)
	if !ok || arr.Len() == 0 {
		return 1
	}
	family, _ := raw.AsName(deref(r, arr.Items[0]))
	switch family {
	case "ICCBased":
		if arr.Len() > 1 {
			if d := dictOf(r, arr.Items[1]); d != nil {
				if n, ok := raw.AsInt(deref(r, dictGet(d, "N"))); ok {
					return int(n)
				}
			}
		}
		return 3
	case "Separation", "Indexed", "I":
		return 1
	case "DeviceN":
		if arr.Len() > 1 {
			if names, ok := raw.AsArray(deref(r, arr.Items[1])); ok {
				return names.Len()
			}
		}
		return 1
	case "Pattern":
		return 0
	}
	return NewResources(r, nil).Components(family)
}
