package writer

import (
	"fmt"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/security"
)

// EncryptObject returns an encrypted copy of obj; obj is not modified.
func EncryptObject(obj raw.Object, ref raw.ObjectRef, h security.Handler) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		data, err := h.Encrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString, "")
		if err != nil {
			return nil, fmt.Errorf("encrypt string in %s: %w", ref, err)
		}
		return raw.StringObj{Bytes: data, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		arr := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			enc, err := EncryptObject(item, ref, h)
			if err != nil {
				return nil, err
			}
			arr.Items[i] = enc
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for k, item := range v.KV {
			enc, err := EncryptObject(item, ref, h)
			if err != nil {
				return nil, err
			}
			d.KV[k] = enc
		}
		return d, nil
	case *raw.StreamObj:
		encDict, err := EncryptObject(v.Dict, ref, h)
		if err != nil {
			return nil, err
		}
		d := encDict.(*raw.DictObj)
		class := security.DataClassStream
		switch typeName(v.Dict) {
		case "XRef":
			return raw.NewStream(d, v.Data), nil
		case "Metadata":
			if !h.EncryptMetadata() {
				return raw.NewStream(d, v.Data), nil
			}
			class = security.DataClassMetadataStream
		}
		filter := streamCryptFilter(v.Dict)
		if filter == "Identity" {
			return raw.NewStream(d, v.Data), nil
		}
		data, err := h.Encrypt(ref.Num, ref.Gen, v.Data, class, filter)
		if err != nil {
			return nil, fmt.Errorf("encrypt stream %s: %w", ref, err)
		}
		return raw.NewStream(d, data), nil
	}
	return obj, nil
}

func streamCryptFilter(d *raw.DictObj) string {
	names, params := filters.ExtractFilters(d)
	for i, name := range names {
		if name != "Crypt" {
			continue
		}
		if i < len(params) && params[i] != nil {
			if v, ok := params[i].Get("Name"); ok {
				if n, ok := raw.AsName(v); ok {
					return n
				}
			}
		}
		return "Identity"
	}
	return ""
}
