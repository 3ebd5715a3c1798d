// Package render rasterizes pages for on-screen preview. It is not a full
// PDF rasterizer: it draws vector paths, text as bitmap glyphs scaled to
// their boxes, and decodable images, which is enough to place masks.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/observability"
)

// DefaultBaseScale multiplies the user zoom; at 1.0 zoom a 72 dpi page
// shows at 108 dpi.
const DefaultBaseScale = 1.5

// Raster is a rendered page.
type Raster struct {
	Image *image.RGBA
	// Zoom is the pixels-per-point factor used.
	Zoom float64
	Page document.PageInfo
}

func (r *Raster) Size() coords.Size {
	b := r.Image.Bounds()
	return coords.Size{W: b.Dx(), H: b.Dy()}
}

// Overlay paints rects translucently over the raster.
func (r *Raster) Overlay(rects []coords.PixelRect, c color.Color) {
	src := image.NewUniform(c)
	for _, pr := range rects {
		pr = pr.Normalize()
		rect := image.Rect(pr.X0, pr.Y0, pr.X1, pr.Y1).Intersect(r.Image.Bounds())
		if rect.Empty() {
			continue
		}
		draw.Draw(r.Image, rect, src, image.Point{}, draw.Over)
	}
}

func (r *Raster) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Image)
}

type Options struct {
	Logger observability.Logger
	// MaxDepth bounds nested form XObjects.
	MaxDepth int
}

type Renderer struct {
	log      observability.Logger
	maxDepth int
}

func New(opts Options) *Renderer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = editor.DefaultMaxDepth
	}
	return &Renderer{log: observability.OrNop(opts.Logger), maxDepth: opts.MaxDepth}
}

// RenderPage draws the page at index with zoom pixels per point. It
// returns nil when there is nothing to draw or drawing fails; failures are
// logged.
func (r *Renderer) RenderPage(ctx context.Context, doc *document.Document, index int, zoom float64) (out *Raster) {
	if doc == nil || !doc.Valid() || index < 0 || index >= doc.PageCount() || zoom <= 0 || math.IsInf(zoom, 0) || math.IsNaN(zoom) {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("render panicked", observability.Int("page", index), observability.String("panic", fmt.Sprint(p)))
			out = nil
		}
	}()
	raster, err := r.render(ctx, doc, index, zoom)
	if err != nil {
		r.log.Warn("render failed", observability.Int("page", index), observability.Error(err))
		return nil
	}
	return raster
}

func (r *Renderer) render(ctx context.Context, doc *document.Document, index int, zoom float64) (*Raster, error) {
	content, err := doc.PageContent(ctx, index)
	if err != nil {
		return nil, err
	}
	info := content.Info
	w := int(math.Round(info.Width * zoom))
	h := int(math.Round(info.Height * zoom))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("page %d has no area at zoom %v", index, zoom)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	c := newCanvas(ctx, img, doc, r.log)
	device := info.ToPage.Multiply(coords.Scale(zoom, zoom))
	res := contentstream.NewResources(doc, content.Resources)
	if err := r.draw(c, content.Ops, res, device, 0); err != nil {
		return nil, err
	}
	return &Raster{Image: img, Zoom: zoom, Page: info}, nil
}

func (r *Renderer) draw(c *canvas, ops []contentstream.Operation, res *contentstream.Resources, ctm coords.Matrix, depth int) error {
	items := contentstream.NewTracer(res, ctm).Trace(ops)
	for _, it := range items {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		switch it.Kind {
		case contentstream.ItemPath:
			c.path(it)
		case contentstream.ItemText:
			c.text(it)
		case contentstream.ItemImage:
			c.image(res, it)
		case contentstream.ItemInlineImage:
			c.placeholder(it.CTM)
		case contentstream.ItemForm:
			if depth >= r.maxDepth {
				r.log.Debug("form nesting too deep", observability.String("form", it.Name))
				continue
			}
			form, ok := formContent(c, res, it.Name)
			if !ok {
				continue
			}
			if err := r.draw(c, form.ops, form.res, it.Matrix, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
