package raw

import (
	"bytes"
	"strconv"
	"strings"
)

// Serialize renders o in PDF syntax. Streams include their dictionary and
// payload; /Length is set from the payload.
func Serialize(o Object) []byte {
	var buf bytes.Buffer
	WriteObject(&buf, o)
	return buf.Bytes()
}

func WriteObject(buf *bytes.Buffer, o Object) {
	switch v := o.(type) {
	case NameObj:
		writeName(buf, v.Val)
	case NumberObj:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(FormatFloat(v.F))
		}
	case BoolObj:
		buf.WriteString(strconv.FormatBool(v.V))
	case StringObj:
		writeString(buf, v)
	case *ArrayObj:
		buf.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			WriteObject(buf, it)
		}
		buf.WriteByte(']')
	case *DictObj:
		buf.WriteString("<<")
		for _, k := range v.Keys() {
			writeName(buf, k)
			buf.WriteByte(' ')
			WriteObject(buf, v.KV[k])
		}
		buf.WriteString(">>")
	case *StreamObj:
		d := v.Dict
		if d == nil {
			d = Dict()
		}
		d.Set("Length", NumberInt(int64(len(v.Data))))
		WriteObject(buf, d)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	case RefObj:
		buf.WriteString(v.R.String())
	default:
		buf.WriteString("null")
	}
}

// FormatFloat prints a number without exponent and without trailing zeros.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 5, 64)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || c == '#' || isDelimiter(c) {
			buf.WriteByte('#')
			buf.WriteByte(hex[c>>4])
			buf.WriteByte(hex[c&0xF])
			continue
		}
		buf.WriteByte(c)
	}
}

func writeString(buf *bytes.Buffer, s StringObj) {
	if s.Hex {
		const hex = "0123456789abcdef"
		buf.WriteByte('<')
		for _, c := range s.Bytes {
			buf.WriteByte(hex[c>>4])
			buf.WriteByte(hex[c&0xF])
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Bytes {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
