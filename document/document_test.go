package document_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfmask/builder"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/writer"
)

func writePDF(t *testing.T, b builder.PDFBuilder) string {
	t.Helper()
	data, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func open(t *testing.T, path, password string) *document.Document {
	t.Helper()
	doc, err := document.Open(context.Background(), path, document.Options{Password: password})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func pointNear(p coords.Point, x, y float64) bool { return near(p.X, x) && near(p.Y, y) }

// texts returns the string operands of the text-showing operators.
func texts(t *testing.T, doc *document.Document, page int) string {
	t.Helper()
	c, err := doc.PageContent(context.Background(), page)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	var sb strings.Builder
	for _, op := range c.Ops {
		switch op.Operator {
		case "Tj", "'", "\"":
			s, _ := op.Operands[len(op.Operands)-1].(raw.StringObj)
			sb.Write(s.Bytes)
		case "TJ":
			arr, _ := op.Operands[0].(*raw.ArrayObj)
			for _, item := range arr.Items {
				if s, ok := item.(raw.StringObj); ok {
					sb.Write(s.Bytes)
				}
			}
		}
		sb.WriteByte('|')
	}
	return sb.String()
}

func TestOpenCountsPages(t *testing.T) {
	b := builder.New()
	for i := 0; i < 3; i++ {
		b.NewPage(600, 800).DrawText("page", 100, 700, builder.TextOptions{})
	}
	doc := open(t, writePDF(t, b), "")
	if n := doc.PageCount(); n != 3 {
		t.Fatalf("PageCount() = %d, want 3", n)
	}
	info, err := doc.Page(2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if !near(info.Width, 600) || !near(info.Height, 800) {
		t.Fatalf("page 2 size = %vx%v", info.Width, info.Height)
	}
	if !doc.Valid() {
		t.Fatalf("opened document is not valid")
	}
}

func TestPageGeometry(t *testing.T) {
	b := builder.New()
	b.NewPage(600, 800)
	b.NewPage(600, 800).SetRotation(90)
	b.NewPage(600, 800).SetRotation(180)
	b.NewPage(600, 800).SetRotation(-90)
	b.NewPage(600, 800).SetCropBox(coords.Rect{X0: 50, Y0: 100, X1: 550, Y1: 700})
	doc := open(t, writePDF(t, b), "")

	if doc.PageCount() != 5 {
		t.Fatalf("page count = %d", doc.PageCount())
	}
	cases := []struct {
		rotate int
		w, h   float64
		user   coords.Point
		px, py float64
	}{
		{0, 600, 800, coords.Point{X: 0, Y: 800}, 0, 0},
		{90, 800, 600, coords.Point{X: 0, Y: 0}, 0, 0},
		{180, 600, 800, coords.Point{X: 600, Y: 0}, 0, 0},
		{270, 800, 600, coords.Point{X: 600, Y: 800}, 0, 0},
		{0, 500, 600, coords.Point{X: 50, Y: 700}, 0, 0},
	}
	for i, tc := range cases {
		info, err := doc.Page(i)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if info.Rotate != tc.rotate || !near(info.Width, tc.w) || !near(info.Height, tc.h) {
			t.Fatalf("page %d: rotate=%d size=%vx%v", i, info.Rotate, info.Width, info.Height)
		}
		if got := info.ToPage.Transform(tc.user); !pointNear(got, tc.px, tc.py) {
			t.Fatalf("page %d: %v maps to %v, want top-left corner", i, tc.user, got)
		}
		back := info.FromPage().Transform(coords.Point{X: tc.px, Y: tc.py})
		if !pointNear(back, tc.user.X, tc.user.Y) {
			t.Fatalf("page %d: inverse gives %v", i, back)
		}
	}
	if _, err := doc.Page(5); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestApplyRedactionsRemovesText(t *testing.T) {
	path := writePDF(t, builder.New().
		NewPage(600, 800).
		DrawText("Secret", 100, 700, builder.TextOptions{FontSize: 12}).
		DrawText("Public", 100, 100, builder.TextOptions{FontSize: 12}).
		Finish())
	orig, _ := os.ReadFile(path)
	doc := open(t, path, "")

	if _, err := doc.AddRedactAnnot(0, coords.Rect{X0: 90, Y0: 80, X1: 300, Y1: 110}); err != nil {
		t.Fatalf("annot: %v", err)
	}
	if !doc.Modified() {
		t.Fatalf("expected pending edits")
	}
	stats, err := doc.ApplyRedactions(context.Background(), 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.Glyphs != 6 {
		t.Fatalf("removed %d glyphs, want 6", stats.Glyphs)
	}
	if err := doc.Save(context.Background(), document.SaveOptions{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	saved, _ := os.ReadFile(path)
	if !bytes.HasPrefix(saved, orig) {
		t.Fatalf("incremental save changed the original bytes")
	}
	if doc.Modified() {
		t.Fatalf("edits should be cleared after save")
	}
	reopened := open(t, path, "")
	got := texts(t, reopened, 0)
	if strings.Contains(got, "Secret") || !strings.Contains(got, "Public") {
		t.Fatalf("texts after redaction = %q", got)
	}
	c, _ := reopened.PageContent(context.Background(), 0)
	tail := c.Ops[len(c.Ops)-4:]
	if tail[0].Operator != "rg" || tail[1].Operator != "re" || tail[2].Operator != "f" {
		t.Fatalf("expected white fill at the end, got %v", tail)
	}
	if !strings.Contains(string(saved), "/Prev") {
		t.Fatalf("missing /Prev in update")
	}
}

func TestApplyWithoutAnnotationsIsNoop(t *testing.T) {
	doc := open(t, writePDF(t, builder.New().NewPage(100, 100).Finish()), "")
	stats, err := doc.ApplyRedactions(context.Background(), 0)
	if err != nil || stats.Total() != 0 {
		t.Fatalf("stats=%+v err=%v", stats, err)
	}
	if doc.Modified() {
		t.Fatalf("no edits expected")
	}
}

func TestRedactionOnRotatedPage(t *testing.T) {
	// Text near the bottom-left corner of a page rotated by 90 degrees
	// shows near the top-left corner.
	path := writePDF(t, builder.New().
		NewPage(600, 800).
		SetRotation(90).
		DrawText("Corner", 20, 20, builder.TextOptions{FontSize: 10}).
		Finish())
	doc := open(t, path, "")
	info, _ := doc.Page(0)
	box := info.ToPage.TransformRect(coords.Rect{X0: 15, Y0: 15, X1: 80, Y1: 35})
	if box.X0 > 40 || box.Y0 > 40 {
		t.Fatalf("unexpected displayed box %v", box)
	}
	if _, err := doc.AddRedactAnnot(0, box); err != nil {
		t.Fatalf("annot: %v", err)
	}
	if _, err := doc.ApplyRedactions(context.Background(), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := texts(t, doc, 0); strings.Contains(got, "Corner") {
		t.Fatalf("text survived: %q", got)
	}
}

func TestEncryptedDocument(t *testing.T) {
	path := writePDF(t, builder.New().
		SetEncryption("owner", "user", 4).
		NewPage(200, 200).
		DrawText("Hidden", 10, 150, builder.TextOptions{}).
		Finish())

	_, err := document.Open(context.Background(), path, document.Options{})
	if !errors.Is(err, document.ErrInvalidPassword) {
		t.Fatalf("open without password: %v", err)
	}
	doc := open(t, path, "user")
	if !doc.Encrypted() {
		t.Fatalf("expected encrypted document")
	}
	if _, err := doc.AddRedactAnnot(0, coords.Rect{X0: 0, Y0: 0, X1: 200, Y1: 100}); err != nil {
		t.Fatalf("annot: %v", err)
	}
	if _, err := doc.ApplyRedactions(context.Background(), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := doc.Save(context.Background(), document.SaveOptions{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := document.Open(context.Background(), path, document.Options{}); !errors.Is(err, document.ErrInvalidPassword) {
		t.Fatalf("saved file lost its encryption: %v", err)
	}
	if got := texts(t, open(t, path, "user"), 0); strings.Contains(got, "Hidden") {
		t.Fatalf("text survived: %q", got)
	}
}

func TestFullSaveToNewPath(t *testing.T) {
	path := writePDF(t, builder.New().NewPage(300, 300).DrawText("Keep", 10, 10, builder.TextOptions{}).Finish())
	doc := open(t, path, "")
	if _, err := doc.AddRedactAnnot(0, coords.Rect{X0: 100, Y0: 100, X1: 200, Y1: 200}); err != nil {
		t.Fatalf("annot: %v", err)
	}
	if _, err := doc.ApplyRedactions(context.Background(), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.pdf")
	if err := doc.Save(context.Background(), document.SaveOptions{Mode: writer.ModeFull, Path: dest}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if doc.Path() != dest {
		t.Fatalf("path = %q", doc.Path())
	}
	data, _ := os.ReadFile(dest)
	if bytes.Count(data, []byte("startxref")) != 1 {
		t.Fatalf("full rewrite should have a single xref section")
	}
	if got := texts(t, open(t, dest, ""), 0); !strings.Contains(got, "Keep") {
		t.Fatalf("untouched text lost: %q", got)
	}
}

func TestClose(t *testing.T) {
	doc := open(t, writePDF(t, builder.New().NewPage(100, 100).Finish()), "")
	doc.Close()
	if doc.Valid() || doc.PageCount() != 0 {
		t.Fatalf("closed document still usable")
	}
	if err := doc.Save(context.Background(), document.SaveOptions{}); !errors.Is(err, document.ErrClosed) {
		t.Fatalf("save after close: %v", err)
	}
}
