package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/security"
)

// buildPDF writes objects 1..n with a classic xref table. Bodies are
// written verbatim between "N 0 obj" and "endobj".
func buildPDF(bodies []string, trailerExtra string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(bodies)+1)
	for i, body := range bodies {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(bodies)+1)
	for i := 1; i <= len(bodies); i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R %s >>\nstartxref\n%d\n%%%%EOF\n", len(bodies)+1, trailerExtra, xrefOffset)
	return buf.Bytes()
}

func parse(t *testing.T, data []byte, password string) *Result {
	t.Helper()
	res, err := NewDocumentParser(Config{Password: password}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return res
}

func TestDocumentParserParsesClassicXRef(t *testing.T) {
	res := parse(t, buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, ""), "")

	if got := res.Version; got != "1.7" {
		t.Fatalf("expected version 1.7, got %q", got)
	}
	root, err := res.Root(context.Background())
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if typ, _ := raw.AsName(dictValue(root, "Type")); typ != "Catalog" {
		t.Fatalf("catalog type = %q", typ)
	}
	missing, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 9})
	if err != nil {
		t.Fatalf("missing object: %v", err)
	}
	if _, ok := missing.(raw.NullObj); !ok {
		t.Fatalf("missing object should be null, got %T", missing)
	}
}

func TestLoaderResolvesIndirectLength(t *testing.T) {
	res := parse(t, buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		"<< /Length 4 0 R >>\nstream\nendstream inside\nendstream",
		"16",
	}, ""), "")

	obj, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 3})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		t.Fatalf("expected stream, got %T", obj)
	}
	if string(st.Data) != "endstream inside" {
		t.Fatalf("stream data = %q", st.Data)
	}
}

func TestLoaderReadsObjectStreams(t *testing.T) {
	header := "2 0 3 40 "
	body := fmt.Sprintf("%-40s%s", "<< /Type /Pages /Kids [] /Count 0 >>", "(member)")
	payload, err := filters.FlateEncode([]byte(header + body))
	if err != nil {
		t.Fatalf("flate: %v", err)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off4 := buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", len(header), len(payload))
	buf.Write(payload)
	buf.WriteString("\nendstream\nendobj\n")
	xrefOff := buf.Len()
	rows := []byte{
		0, 0, 0, 0, 255,
		1, 0, 0, byte(off1), 0,
		2, 0, 0, 4, 0,
		2, 0, 0, 4, 1,
		1, 0, byte(off4 >> 8), byte(off4), 0,
		1, 0, byte(xrefOff >> 8), byte(xrefOff), 0,
	}
	fmt.Fprintf(buf, "5 0 obj\n<< /Type /XRef /Size 6 /W [1 3 1] /Root 1 0 R /Length %d >>\nstream\n", len(rows))
	buf.Write(rows)
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	res := parse(t, buf.Bytes(), "")
	pages, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load pages: %v", err)
	}
	if d, ok := pages.(*raw.DictObj); !ok || d.Len() != 3 {
		t.Fatalf("pages = %#v", pages)
	}
	member, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 3})
	if err != nil {
		t.Fatalf("load member: %v", err)
	}
	if s, ok := member.(raw.StringObj); !ok || string(s.Bytes) != "member" {
		t.Fatalf("member = %#v", member)
	}
}

func encryptedPDF(t *testing.T, rev int) []byte {
	t.Helper()
	fileID := []byte("0123456789abcdef")
	enc, h, err := security.NewStandard(security.StandardConfig{
		UserPassword:  "user",
		OwnerPassword: "owner",
		Revision:      rev,
		FileID:        fileID,
	})
	if err != nil {
		t.Fatalf("new standard: %v", err)
	}
	title, err := h.Encrypt(3, 0, []byte("Secret Title"), security.DataClassString, "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	var encBody bytes.Buffer
	encBody.WriteString("<<")
	for _, k := range enc.Keys() {
		v, _ := enc.Get(k)
		fmt.Fprintf(&encBody, " /%s %s", k, literal(v))
	}
	encBody.WriteString(" >>")
	return buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		fmt.Sprintf("<< /Title <%x> >>", title),
		encBody.String(),
	}, fmt.Sprintf("/Encrypt 4 0 R /Info 3 0 R /ID [<%x> <%x>]", fileID, fileID))
}

// literal is enough of a serializer for encryption dictionaries.
func literal(o raw.Object) string {
	switch v := o.(type) {
	case raw.NameObj:
		return "/" + v.Val
	case raw.NumberObj:
		if v.IsInt {
			return fmt.Sprint(v.I)
		}
		return fmt.Sprint(v.F)
	case raw.BoolObj:
		return fmt.Sprint(v.V)
	case raw.StringObj:
		return fmt.Sprintf("<%x>", v.Bytes)
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			fmt.Fprintf(&b, " /%s %s", k, literal(item))
		}
		b.WriteString(" >>")
		return b.String()
	}
	return "null"
}

func TestLoaderDecryptsStrings(t *testing.T) {
	for _, rev := range []int{3, 4, 6} {
		data := encryptedPDF(t, rev)
		for _, pwd := range []string{"user", "owner"} {
			res := parse(t, data, pwd)
			if !res.Security.IsEncrypted() {
				t.Fatalf("rev %d: expected encrypted document", rev)
			}
			info, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 3})
			if err != nil {
				t.Fatalf("rev %d: load info: %v", rev, err)
			}
			title, _ := info.(*raw.DictObj).Get("Title")
			if s, ok := title.(raw.StringObj); !ok || string(s.Bytes) != "Secret Title" {
				t.Fatalf("rev %d pwd %q: title = %#v", rev, pwd, title)
			}
		}
	}
}

func TestParseRejectsWrongPassword(t *testing.T) {
	_, err := NewDocumentParser(Config{Password: "nope"}).Parse(context.Background(), encryptedPDF(t, 4))
	if !errors.Is(err, security.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}
