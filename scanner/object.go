package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfmask/ir/raw"
)

var errUnexpectedClose = errors.New("unexpected closing delimiter")

// ReadObject parses one direct object at the current position. A stream
// keyword after a dictionary is not consumed; see ReadIndirect.
func (s *Scanner) ReadObject() (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.ObjectFrom(tok)
}

// ObjectFrom parses the object that starts with tok, reading further tokens
// for arrays and dictionaries.
func (s *Scanner) ObjectFrom(tok Token) (raw.Object, error) {
	switch tok.Type {
	case TokenDict:
		return s.readDict()
	case TokenArray:
		return s.readArray()
	case TokenName:
		return raw.NameLiteral(tok.Value.(string)), nil
	case TokenString:
		return raw.StringObj{Bytes: append([]byte(nil), tok.Value.([]byte)...), Hex: tok.Hex}, nil
	case TokenNumber:
		if i, ok := tok.Value.(int64); ok {
			return raw.NumberInt(i), nil
		}
		f, _ := tok.Float()
		return raw.NumberFloat(f), nil
	case TokenBoolean:
		return raw.Bool(tok.Value.(bool)), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenRef:
		r := tok.Value.(Ref)
		return raw.Ref(r.Num, r.Gen), nil
	case TokenKeyword:
		switch tok.Keyword() {
		case "]", ">>":
			return nil, errUnexpectedClose
		}
		return nil, fmt.Errorf("unexpected keyword %q at offset %d", tok.Keyword(), tok.Pos)
	}
	return nil, fmt.Errorf("unexpected token at offset %d", tok.Pos)
}

func (s *Scanner) readArray() (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return arr, s.recover(errors.New("unterminated array"), "array")
			}
			return nil, err
		}
		if tok.Keyword() == "]" {
			return arr, nil
		}
		obj, err := s.ObjectFrom(tok)
		if err != nil {
			return nil, err
		}
		arr.Append(obj)
	}
}

func (s *Scanner) readDict() (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return d, s.recover(errors.New("unterminated dictionary"), "dict")
			}
			return nil, err
		}
		if tok.Keyword() == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			if err := s.recover(fmt.Errorf("dictionary key is not a name at offset %d", tok.Pos), "dict"); err != nil {
				return nil, err
			}
			continue
		}
		key := tok.Value.(string)
		valTok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if valTok.Keyword() == ">>" {
			// Key without value; treat as null.
			return d, nil
		}
		val, err := s.ObjectFrom(valTok)
		if err != nil {
			return nil, err
		}
		if _, isNull := val.(raw.NullObj); !isNull {
			d.Set(key, val)
		}
	}
}

// LengthFunc resolves the /Length entry of a stream dictionary, which may
// be an indirect reference. It returns -1 when unknown.
type LengthFunc func(dict *raw.DictObj) int64

// ReadIndirect parses "N G obj ... endobj" at the current position.
func (s *Scanner) ReadIndirect(length LengthFunc) (raw.ObjectRef, raw.Object, error) {
	var ref raw.ObjectRef
	numTok, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	genTok, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	objTok, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	num, ok1 := numTok.Int()
	gen, ok2 := genTok.Int()
	if !ok1 || !ok2 || objTok.Keyword() != "obj" {
		return ref, nil, fmt.Errorf("no object header at offset %d", numTok.Pos)
	}
	ref = raw.ObjectRef{Num: int(num), Gen: int(gen)}

	obj, err := s.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d %d: %w", num, gen, err)
	}
	dict, isDict := obj.(*raw.DictObj)
	if !isDict {
		return ref, obj, nil
	}

	save := s.pos
	s.skipWSAndComments()
	if s.pos+6 > int64(len(s.data)) || string(s.data[s.pos:s.pos+6]) != "stream" {
		s.pos = save
		return ref, obj, nil
	}
	n := int64(-1)
	if length != nil {
		n = length(dict)
	}
	s.SetNextStreamLength(n)
	tok, err := s.Next()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d %d: %w", num, gen, err)
	}
	if tok.Type != TokenStream {
		return ref, obj, nil
	}
	return ref, raw.NewStream(dict, tok.Value.([]byte)), nil
}
