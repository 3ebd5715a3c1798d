// Package contentstream parses page content into operations, writes them
// back, and traces them to find what each operation paints and where.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/scanner"
)

// Operation is one operator with its operands. Inline images are a single
// operation with Operator "BI" and Image set.
type Operation struct {
	Operator string
	Operands []raw.Object
	Image    *InlineImage
}

type InlineImage struct {
	Dict *raw.DictObj
	Data []byte
}

func Op(operator string, operands ...raw.Object) Operation {
	return Operation{Operator: operator, Operands: operands}
}

// Num returns operand i as a number, or 0.
func (op Operation) Num(i int) float64 {
	if i >= len(op.Operands) {
		return 0
	}
	f, _ := raw.AsFloat(op.Operands[i])
	return f
}

// Nums returns all operands as numbers; ok is false if any is not numeric.
func (op Operation) Nums() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		f, ok := raw.AsFloat(o)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// Name returns operand i as a name, or "".
func (op Operation) Name(i int) string {
	if i >= len(op.Operands) {
		return ""
	}
	n, _ := raw.AsName(op.Operands[i])
	return n
}

// Parse splits a decoded content stream into operations. Stray closing
// delimiters are skipped; lexical errors end parsing and are returned with
// the operations read so far.
func Parse(data []byte) ([]Operation, error) {
	s := scanner.New(data, scanner.Config{ContentStream: true})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		if tok.Type != scanner.TokenKeyword {
			obj, err := s.ObjectFrom(tok)
			if err != nil {
				return ops, fmt.Errorf("operand at offset %d: %w", tok.Pos, err)
			}
			operands = append(operands, obj)
			continue
		}
		kw := tok.Keyword()
		switch kw {
		case "]", ">>", ">", "{", "}", ")":
			continue
		case "BI":
			img, err := readInlineImage(s)
			if err != nil {
				return ops, fmt.Errorf("inline image at offset %d: %w", tok.Pos, err)
			}
			ops = append(ops, Operation{Operator: "BI", Image: img})
			operands = nil
			continue
		}
		ops = append(ops, Operation{Operator: kw, Operands: operands})
		operands = nil
	}
}

func readInlineImage(s *scanner.Scanner) (*InlineImage, error) {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			return &InlineImage{Dict: dict, Data: append([]byte(nil), tok.Value.([]byte)...)}, nil
		case scanner.TokenName:
			val, err := s.ReadObject()
			if err != nil {
				return nil, err
			}
			dict.Set(tok.Value.(string), val)
		default:
			return nil, fmt.Errorf("unexpected token in inline image dictionary at offset %d", tok.Pos)
		}
	}
}

// Serialize writes operations back to content syntax, one per line.
func Serialize(ops []Operation) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		if op.Image != nil {
			buf.WriteString("BI")
			for _, k := range op.Image.Dict.Keys() {
				buf.WriteByte(' ')
				raw.WriteObject(&buf, raw.NameLiteral(k))
				buf.WriteByte(' ')
				raw.WriteObject(&buf, op.Image.Dict.KV[k])
			}
			buf.WriteString(" ID ")
			buf.Write(op.Image.Data)
			buf.WriteString("\nEI\n")
			continue
		}
		for _, o := range op.Operands {
			raw.WriteObject(&buf, o)
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
