package render_test

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfmask/builder"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/render"
)

func openDoc(t *testing.T, b builder.PDFBuilder) *document.Document {
	t.Helper()
	data, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := document.Open(context.Background(), path, document.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func gray(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}

func TestRenderPaths(t *testing.T) {
	doc := openDoc(t, builder.New().NewPage(600, 800).
		DrawRectangle(0, 700, 100, 100, builder.RectOptions{Fill: true}).
		DrawLine(300, 400, 500, 400, builder.LineOptions{LineWidth: 4, StrokeColor: builder.Color{R: 1}}).
		Finish())
	r := render.New(render.Options{})
	raster := r.RenderPage(context.Background(), doc, 0, 1)
	if raster == nil {
		t.Fatalf("no raster")
	}
	if got := raster.Size(); got != (coords.Size{W: 600, H: 800}) {
		t.Fatalf("size = %v", got)
	}
	if g := gray(raster.Image.At(50, 50)); g > 10 {
		t.Fatalf("filled rectangle not drawn: %d", g)
	}
	if g := gray(raster.Image.At(500, 700)); g != 255 {
		t.Fatalf("background not white: %d", g)
	}
	if c := raster.Image.RGBAAt(400, 400); c.R < 200 || c.G > 60 {
		t.Fatalf("red line not drawn: %v", c)
	}
}

func TestRenderZoomAndRotation(t *testing.T) {
	doc := openDoc(t, builder.New().NewPage(600, 800).SetRotation(90).Finish())
	raster := render.New(render.Options{}).RenderPage(context.Background(), doc, 0, 1.5)
	if raster == nil {
		t.Fatalf("no raster")
	}
	if got := raster.Size(); got != (coords.Size{W: 1200, H: 900}) {
		t.Fatalf("size = %v", got)
	}
}

func TestRenderTextAndImages(t *testing.T) {
	doc := openDoc(t, builder.New().NewPage(200, 200).
		DrawText("HHHH", 10, 150, builder.TextOptions{FontSize: 24}).
		DrawImage(builder.Gray(4, 4, 0), 100, 0, 50, 50).
		Finish())
	raster := render.New(render.Options{}).RenderPage(context.Background(), doc, 0, 1)
	if raster == nil {
		t.Fatalf("no raster")
	}
	dark := 0
	for y := 30; y < 55; y++ {
		for x := 10; x < 80; x++ {
			if gray(raster.Image.At(x, y)) < 128 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatalf("text left no ink")
	}
	if g := gray(raster.Image.At(125, 175)); g > 10 {
		t.Fatalf("image not drawn: %d", g)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	doc := openDoc(t, builder.New().NewPage(100, 100).Finish())
	r := render.New(render.Options{})
	ctx := context.Background()
	if r.RenderPage(ctx, nil, 0, 1) != nil {
		t.Fatalf("nil document rendered")
	}
	if r.RenderPage(ctx, doc, 1, 1) != nil || r.RenderPage(ctx, doc, -1, 1) != nil {
		t.Fatalf("out of range page rendered")
	}
	if r.RenderPage(ctx, doc, 0, 0) != nil || r.RenderPage(ctx, doc, 0, -2) != nil {
		t.Fatalf("non-positive zoom rendered")
	}
	doc.Close()
	if r.RenderPage(ctx, doc, 0, 1) != nil {
		t.Fatalf("closed document rendered")
	}
}

func TestOverlayAndPNG(t *testing.T) {
	doc := openDoc(t, builder.New().NewPage(100, 100).Finish())
	raster := render.New(render.Options{}).RenderPage(context.Background(), doc, 0, 1)
	raster.Overlay([]coords.PixelRect{{X0: 60, Y0: 60, X1: 10, Y1: 10}}, color.NRGBA{R: 255, A: 80})
	c := raster.Image.RGBAAt(30, 30)
	if c.R != 255 || c.G == 255 {
		t.Fatalf("overlay not painted: %v", c)
	}
	if raster.Image.RGBAAt(80, 80).G != 255 {
		t.Fatalf("overlay leaked")
	}
	var buf bytes.Buffer
	if err := raster.EncodePNG(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil || img.Bounds().Dx() != 100 {
		t.Fatalf("png roundtrip: %v", err)
	}
}
