package writer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/parser"
	"github.com/wudi/pdfmask/recovery"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/writer"
)

func buildPDF(bodies []string, trailerExtra string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.6\n")
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

// buildXRefStreamPDF ends in an uncompressed cross-reference stream.
func buildXRefStreamPDF(bodies []string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	var rows []byte
	rows = append(rows, 0, 0, 0, 0, 0, 0xff, 0xff)
	for i, body := range bodies {
		off := buf.Len()
		rows = append(rows, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0, 0)
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	num := len(bodies) + 1
	off := buf.Len()
	rows = append(rows, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0, 0)
	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /Length %d >>\nstream\n", num, num+1, len(rows))
	buf.Write(rows)
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", off)
	return buf.Bytes()
}

var pageBodies = []string{
	"<< /Type /Catalog /Pages 2 0 R >>",
	"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
	"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents 4 0 R >>",
	"<< /Length 8 >>\nstream\n0 0 m S\n\nendstream",
}

func parse(t *testing.T, data []byte, password string) *parser.Result {
	t.Helper()
	res, err := parser.NewDocumentParser(parser.Config{Password: password}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return res
}

func update(res *parser.Result, objects map[raw.ObjectRef]raw.Object) *writer.Update {
	return &writer.Update{
		Base:     res.Data,
		Table:    res.Table,
		Loader:   res.Loader,
		Security: res.Security,
		Version:  res.Version,
		Objects:  objects,
	}
}

func write(t *testing.T, u *writer.Update, cfg writer.Config) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := (&writer.WriterBuilder{}).Build().Write(context.Background(), u, &out, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	return out.Bytes()
}

func load(t *testing.T, res *parser.Result, num int) raw.Object {
	t.Helper()
	obj, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: num})
	if err != nil {
		t.Fatalf("load %d: %v", num, err)
	}
	return obj
}

func newContent(data string) map[raw.ObjectRef]raw.Object {
	return map[raw.ObjectRef]raw.Object{
		{Num: 4}: raw.NewStream(raw.Dict(), []byte(data)),
		{Num: 5}: raw.Str([]byte("added")),
	}
}

func TestIncrementalKeepsOriginalBytes(t *testing.T) {
	base := buildPDF(pageBodies, "")
	res := parse(t, base, "")
	out := write(t, update(res, newContent("1 1 1 rg 0 0 10 10 re f")), writer.Config{})

	if !bytes.HasPrefix(out, base) {
		t.Fatalf("original bytes not preserved")
	}
	next := parse(t, out, "")
	if prev, _ := next.Trailer().Get("Prev"); prev != raw.NumberInt(res.Table.StartXRef()) {
		t.Fatalf("Prev = %v, want %d", prev, res.Table.StartXRef())
	}
	if size, _ := next.Trailer().Get("Size"); size != raw.NumberInt(6) {
		t.Fatalf("Size = %v", size)
	}
	stm, ok := load(t, next, 4).(*raw.StreamObj)
	if !ok || string(stm.Data) != "1 1 1 rg 0 0 10 10 re f" {
		t.Fatalf("content = %#v", load(t, next, 4))
	}
	if s, ok := load(t, next, 5).(raw.StringObj); !ok || string(s.Bytes) != "added" {
		t.Fatalf("new object = %#v", s)
	}
	if _, ok := load(t, next, 3).(*raw.DictObj); !ok {
		t.Fatalf("untouched page lost")
	}
}

func TestIncrementalAppendsXRefStream(t *testing.T) {
	base := buildXRefStreamPDF(pageBodies)
	res := parse(t, base, "")
	if !res.Table.UsesXRefStream() {
		t.Fatalf("fixture should end in an xref stream")
	}
	out := write(t, update(res, newContent("0 0 1 1 re f")), writer.Config{})
	if !bytes.HasPrefix(out, base) {
		t.Fatalf("original bytes not preserved")
	}
	next := parse(t, out, "")
	if !next.Table.UsesXRefStream() {
		t.Fatalf("update should use an xref stream")
	}
	if next.Table.Repaired() {
		t.Fatalf("update needed repair")
	}
	if stm, ok := load(t, next, 4).(*raw.StreamObj); !ok || string(stm.Data) != "0 0 1 1 re f" {
		t.Fatalf("content not replaced")
	}
	if _, ok := load(t, next, 2).(*raw.DictObj); !ok {
		t.Fatalf("pages object lost")
	}
}

func TestIncrementalAddsMissingNewline(t *testing.T) {
	base := bytes.TrimRight(buildPDF(pageBodies, ""), "\n")
	res := parse(t, base, "")
	out := write(t, update(res, newContent("n")), writer.Config{})
	if !bytes.HasPrefix(out, append(append([]byte(nil), base...), '\n')) {
		t.Fatalf("expected a newline after the original %%%%EOF")
	}
	parse(t, out, "")
}

func TestIncrementalRefusesRepairedTable(t *testing.T) {
	base := buildPDF(pageBodies, "")
	broken := bytes.Replace(base, []byte("startxref\n"), []byte("startxref\n9"), 1)
	res, err := parser.NewDocumentParser(parser.Config{Recovery: recovery.Lenient{}}).Parse(context.Background(), broken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Table.Repaired() {
		t.Fatalf("fixture should need repair")
	}
	var out bytes.Buffer
	err = (&writer.WriterBuilder{}).Build().Write(context.Background(), update(res, newContent("n")), &out, writer.Config{})
	if !errors.Is(err, writer.ErrIncrementalUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be written on failure")
	}

	full := write(t, update(res, newContent("n")), writer.Config{Mode: writer.ModeFull})
	if parse(t, full, "").Table.Repaired() {
		t.Fatalf("full rewrite should have an intact xref")
	}
}

func TestFullRewrite(t *testing.T) {
	base := buildXRefStreamPDF(pageBodies)
	res := parse(t, base, "")
	out := write(t, update(res, newContent("0 0 5 5 re f")), writer.Config{Mode: writer.ModeFull})

	if !bytes.HasPrefix(out, []byte("%PDF-1.5\n")) {
		t.Fatalf("header = %q", out[:12])
	}
	if bytes.Contains(out, []byte("/XRef")) {
		t.Fatalf("old xref stream should be dropped")
	}
	next := parse(t, out, "")
	if next.Table.UsesXRefStream() {
		t.Fatalf("full rewrite writes a classic table")
	}
	if _, ok := next.Trailer().Get("Prev"); ok {
		t.Fatalf("full rewrite has no previous section")
	}
	if stm, ok := load(t, next, 4).(*raw.StreamObj); !ok || string(stm.Data) != "0 0 5 5 re f" {
		t.Fatalf("content not replaced")
	}
	if root, err := next.Root(context.Background()); err != nil || root == nil {
		t.Fatalf("root: %v", err)
	}
}

func encryptedBodies(t *testing.T) ([]string, string) {
	t.Helper()
	fileID := []byte("0123456789abcdef")
	enc, h, err := security.NewStandard(security.StandardConfig{
		UserPassword:  "user",
		OwnerPassword: "owner",
		Revision:      4,
		FileID:        fileID,
	})
	if err != nil {
		t.Fatalf("new standard: %v", err)
	}
	// Strings in the file body are stored encrypted under their object key.
	name, err := h.Encrypt(3, 0, []byte("pdfmask"), security.DataClassString, "")
	if err != nil {
		t.Fatalf("encrypt producer: %v", err)
	}
	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		fmt.Sprintf("<< /Producer <%x> >>", name),
		string(raw.Serialize(enc)),
	}
	return bodies, fmt.Sprintf("/Encrypt 4 0 R /Info 3 0 R /ID [<%x> <%x>]", fileID, fileID)
}

func producer(t *testing.T, res *parser.Result) string {
	t.Helper()
	info, ok := load(t, res, 3).(*raw.DictObj)
	if !ok {
		t.Fatalf("info is not a dictionary")
	}
	p, _ := info.Get("Producer")
	s, _ := p.(raw.StringObj)
	return string(s.Bytes)
}

func TestEncryptedRoundTrip(t *testing.T) {
	bodies, extra := encryptedBodies(t)
	base := buildPDF(bodies, extra)
	res := parse(t, base, "user")

	objects := map[raw.ObjectRef]raw.Object{
		{Num: 5}: raw.NewStream(raw.Dict(), []byte("q 1 1 1 rg 0 0 9 9 re f Q")),
		{Num: 6}: raw.Dict(),
	}
	objects[raw.ObjectRef{Num: 6}].(*raw.DictObj).Set("Title", raw.Str([]byte("Masked")))

	for _, cfg := range []writer.Config{{}, {Mode: writer.ModeFull, KeepEncryption: true}} {
		out := write(t, update(res, objects), cfg)
		if bytes.Contains(out, []byte("0 0 9 9 re f")) {
			t.Fatalf("%s: content written in plaintext", cfg.Mode)
		}
		next := parse(t, out, "user")
		if !next.Security.IsEncrypted() {
			t.Fatalf("%s: encryption lost", cfg.Mode)
		}
		stm, ok := load(t, next, 5).(*raw.StreamObj)
		if !ok || string(stm.Data) != "q 1 1 1 rg 0 0 9 9 re f Q" {
			t.Fatalf("%s: stream = %#v", cfg.Mode, load(t, next, 5))
		}
		if p := producer(t, next); p != "pdfmask" {
			t.Fatalf("%s: producer = %q", cfg.Mode, p)
		}
		title, _ := load(t, next, 6).(*raw.DictObj).Get("Title")
		if s, ok := title.(raw.StringObj); !ok || string(s.Bytes) != "Masked" {
			t.Fatalf("%s: title = %#v", cfg.Mode, title)
		}
	}
	// the caller's objects stay plaintext
	if string(objects[raw.ObjectRef{Num: 5}].(*raw.StreamObj).Data) != "q 1 1 1 rg 0 0 9 9 re f Q" {
		t.Fatalf("update objects were modified")
	}
}

func TestFullRewriteCanDropEncryption(t *testing.T) {
	bodies, extra := encryptedBodies(t)
	res := parse(t, buildPDF(bodies, extra), "owner")
	out := write(t, update(res, map[raw.ObjectRef]raw.Object{
		{Num: 5}: raw.NewStream(raw.Dict(), []byte("0 0 1 1 re f")),
	}), writer.Config{Mode: writer.ModeFull})

	if !bytes.Contains(out, []byte("0 0 1 1 re f")) {
		t.Fatalf("expected plaintext content")
	}
	next := parse(t, out, "")
	if next.Security.IsEncrypted() {
		t.Fatalf("encryption should be dropped")
	}
	if _, ok := next.Trailer().Get("Encrypt"); ok {
		t.Fatalf("trailer still names /Encrypt")
	}
	if p := producer(t, next); p != "pdfmask" {
		t.Fatalf("producer not decrypted on rewrite: %q", p)
	}
}

type recorder struct {
	before, after []raw.ObjectRef
}

func (r *recorder) BeforeWrite(_ context.Context, ref raw.ObjectRef, _ raw.Object) error {
	r.before = append(r.before, ref)
	return nil
}

func (r *recorder) AfterWrite(_ context.Context, ref raw.ObjectRef, n int64) error {
	if n <= 0 {
		return fmt.Errorf("object %s wrote %d bytes", ref, n)
	}
	r.after = append(r.after, ref)
	return nil
}

func TestInterceptorsSeeEveryObject(t *testing.T) {
	res := parse(t, buildPDF(pageBodies, ""), "")
	rec := &recorder{}
	w := (&writer.WriterBuilder{}).WithInterceptor(rec).Build()
	var out bytes.Buffer
	if err := w.Write(context.Background(), update(res, newContent("n")), &out, writer.Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []raw.ObjectRef{{Num: 4}, {Num: 5}}
	if fmt.Sprint(rec.before) != fmt.Sprint(want) || fmt.Sprint(rec.after) != fmt.Sprint(want) {
		t.Fatalf("before=%v after=%v", rec.before, rec.after)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]writer.Mode{"": writer.ModeIncremental, "incremental": writer.ModeIncremental, "full": writer.ModeFull} {
		got, err := writer.ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := writer.ParseMode("linearized"); err == nil {
		t.Fatalf("expected error")
	}
}
