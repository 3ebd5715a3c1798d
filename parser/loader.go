package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/recovery"
	"github.com/wudi/pdfmask/scanner"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/xref"
)

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// ObjectLoader returns decrypted indirect objects. Stream payloads stay
// filter-encoded; callers decode them with the filters package.
type ObjectLoader interface {
	raw.Resolver
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable *xref.Table
	security  security.Handler
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithSecurity(h security.Handler) *ObjectLoaderBuilder {
	b.security = h
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xref table required")
	}
	sec := b.security
	if sec == nil {
		sec = security.NoopHandler()
	}
	limits := b.limits
	if limits.MaxIndirectDepth == 0 {
		limits = security.DefaultLimits()
	}
	cache := b.cache
	if cache == nil {
		cache = &mapCache{}
	}
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		security:  sec,
		limits:    limits,
		cache:     cache,
		recovery:  b.recovery,
		objstm:    make(map[int]map[int]raw.Object),
		loading:   make(map[int]bool),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable *xref.Table
	security  security.Handler
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy

	mu      sync.Mutex
	objstm  map[int]map[int]raw.Object
	loading map[int]bool
}

// Resolve implements raw.Resolver. Unknown objects resolve to null.
func (o *objectLoader) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	return o.Load(context.Background(), ref)
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, err := o.loadLocked(ctx, ref)
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) loadLocked(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	entry, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		return raw.NullObj{}, nil
	}
	if o.loading[ref.Num] {
		return nil, fmt.Errorf("object %d references itself while loading", ref.Num)
	}
	o.loading[ref.Num] = true
	defer delete(o.loading, ref.Num)

	if entry.Kind == xref.KindCompressed {
		return o.loadFromObjectStream(ctx, ref, entry.StreamNum)
	}
	obj, err := o.loadAtOffset(ctx, ref.Num, entry.Offset, entry.Gen)
	if err != nil {
		return nil, err
	}
	return o.decryptObject(ref.Num, entry.Gen, obj)
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxDepth:        o.limits.MaxNestingDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

// loadAtOffset assumes the caller holds the loader mutex.
func (o *objectLoader) loadAtOffset(ctx context.Context, objNum int, offset int64, gen int) (raw.Object, error) {
	s := scanner.New(o.data, o.scannerConfig())
	s.SetRecoveryLocation(recovery.Location{ByteOffset: offset, ObjectNum: objNum, ObjectGen: gen, Component: "parser"})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	ref, obj, err := s.ReadIndirect(func(d *raw.DictObj) int64 {
		return o.resolveStreamLength(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	if ref.Num != objNum {
		return nil, fmt.Errorf("object header mismatch: want %d, found %d at offset %d", objNum, ref.Num, offset)
	}
	return obj, nil
}

// resolveStreamLength runs under the loader mutex, so an indirect /Length is
// read directly rather than through Load.
func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj) int64 {
	val, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	if ref, ok := val.(raw.RefObj); ok {
		if cached, ok := o.cache.Get(ref.Ref()); ok {
			val = cached
		} else {
			entry, found := o.xrefTable.Lookup(ref.R.Num)
			if !found || entry.Kind != xref.KindInUse {
				return -1
			}
			obj, err := o.loadAtOffset(ctx, ref.R.Num, entry.Offset, entry.Gen)
			if err != nil {
				return -1
			}
			val = obj
		}
	}
	if n, ok := raw.AsInt(val); ok {
		return n
	}
	return -1
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum int) (raw.Object, error) {
	if objs, ok := o.objstm[objStreamNum]; ok {
		if obj, ok := objs[ref.Num]; ok {
			return obj, nil
		}
		return raw.NullObj{}, nil
	}
	entry, ok := o.xrefTable.Lookup(objStreamNum)
	if !ok || entry.Kind != xref.KindInUse {
		return nil, fmt.Errorf("object stream %d missing", objStreamNum)
	}
	streamObj, err := o.loadAtOffset(ctx, objStreamNum, entry.Offset, entry.Gen)
	if err != nil {
		return nil, err
	}
	streamObj, err = o.decryptObject(objStreamNum, entry.Gen, streamObj)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", objStreamNum)
	}
	names, params := filters.ExtractFilters(st.Dict)
	data, _, err := filters.Default(filters.Limits{
		MaxDecompressedSize: o.limits.MaxDecompressedSize,
		MaxDecodeTime:       o.limits.MaxDecodeTime,
	}).Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
	}

	n, _ := raw.AsInt(dictValue(st.Dict, "N"))
	first, _ := raw.AsInt(dictValue(st.Dict, "First"))
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds length")
	}
	header := scanner.New(data[:first], scanner.Config{ContentStream: true})
	pairs := make([][2]int64, 0, n)
	for int64(len(pairs)) < n {
		numTok, err1 := header.Next()
		offTok, err2 := header.Next()
		if err1 != nil || err2 != nil {
			break
		}
		num, ok1 := numTok.Int()
		off, ok2 := offTok.Int()
		if !ok1 || !ok2 {
			break
		}
		pairs = append(pairs, [2]int64{num, off})
	}

	body := data[first:]
	objs := make(map[int]raw.Object, len(pairs))
	for _, p := range pairs {
		if p[1] < 0 || p[1] >= int64(len(body)) {
			continue
		}
		sc := scanner.New(body, o.scannerConfig())
		if err := sc.SeekTo(p[1]); err != nil {
			continue
		}
		obj, err := sc.ReadObject()
		if err != nil {
			if o.recovery == nil || o.recovery.OnError(err, recovery.Location{ObjectNum: int(p[0]), Component: "objstm"}) == recovery.ActionFail {
				return nil, fmt.Errorf("object %d in stream %d: %w", p[0], objStreamNum, err)
			}
			continue
		}
		// Members of an object stream are never encrypted on their own.
		objs[int(p[0])] = obj
	}
	o.objstm[objStreamNum] = objs
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return raw.NullObj{}, nil
}

func dictValue(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func cryptFilterForStream(d *raw.DictObj) (string, bool) {
	names, params := filters.ExtractFilters(d)
	for idx, name := range names {
		if name != "Crypt" {
			continue
		}
		var dp *raw.DictObj
		if idx < len(params) {
			dp = params[idx]
		}
		if name, ok := raw.AsName(dictValue(dp, "Name")); ok {
			return name, true
		}
		return "Identity", true
	}
	return "", false
}

func (o *objectLoader) decryptObject(objNum, gen int, obj raw.Object) (raw.Object, error) {
	if !o.security.IsEncrypted() {
		return obj, nil
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		if typ, _ := raw.AsName(dictValue(st.Dict, "Type")); typ == "XRef" {
			return obj, nil
		}
	}
	if o.isEncryptDict(objNum) {
		return obj, nil
	}
	return o.decryptValue(objNum, gen, obj)
}

func (o *objectLoader) isEncryptDict(objNum int) bool {
	enc, ok := o.xrefTable.Trailer().Get("Encrypt")
	if !ok {
		return false
	}
	ref, ok := enc.(raw.RefObj)
	return ok && ref.R.Num == objNum
}

func (o *objectLoader) decryptValue(objNum, gen int, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := o.security.Decrypt(objNum, gen, v.Bytes, security.DataClassString, "")
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: dec, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			dec, err := o.decryptValue(objNum, gen, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *raw.DictObj:
		for key, item := range v.KV {
			dec, err := o.decryptValue(objNum, gen, item)
			if err != nil {
				return nil, err
			}
			v.KV[key] = dec
		}
		return v, nil
	case *raw.StreamObj:
		if _, err := o.decryptValue(objNum, gen, v.Dict); err != nil {
			return nil, err
		}
		class := security.DataClassStream
		if typ, _ := raw.AsName(dictValue(v.Dict, "Type")); typ == "Metadata" {
			if !o.security.EncryptMetadata() {
				return v, nil
			}
			class = security.DataClassMetadataStream
		}
		cryptFilter, hasCrypt := cryptFilterForStream(v.Dict)
		if hasCrypt && cryptFilter == "Identity" {
			return v, nil
		}
		dec, err := o.security.Decrypt(objNum, gen, v.Data, class, cryptFilter)
		if err != nil {
			return nil, fmt.Errorf("decrypt stream %d %d: %w", objNum, gen, err)
		}
		v.Data = dec
		v.Dict.Set("Length", raw.NumberInt(int64(len(dec))))
		return v, nil
	default:
		return obj, nil
	}
}

type mapCache struct {
	mu sync.RWMutex
	m  map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}
