package render

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/extractor"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
)

var placeholderGray = color.RGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}

type canvas struct {
	ctx      context.Context
	img      *image.RGBA
	raster   *vector.Rasterizer
	resolver raw.Resolver
	log      observability.Logger
}

func newCanvas(ctx context.Context, img *image.RGBA, resolver raw.Resolver, log observability.Logger) *canvas {
	b := img.Bounds()
	return &canvas{ctx: ctx, img: img, raster: vector.NewRasterizer(b.Dx(), b.Dy()), resolver: resolver, log: log}
}

func toColor(c contentstream.Color) color.RGBA {
	r, g, b := c.RGB()
	return color.RGBA{R: channel(r), G: channel(g), B: channel(b), A: 0xff}
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

func (c *canvas) fill(col color.Color) {
	c.raster.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
	b := c.img.Bounds()
	c.raster.Reset(b.Dx(), b.Dy())
}

func (c *canvas) path(it contentstream.Item) {
	if it.Paint.Fill {
		for _, sp := range it.Path.Subpaths {
			c.subpath(sp)
		}
		c.fill(toColor(it.Fill))
	}
	if it.Paint.Stroke {
		half := it.LineWidth * math.Sqrt(math.Abs(it.CTM[0]*it.CTM[3]-it.CTM[1]*it.CTM[2])) / 2
		if half < 0.5 {
			half = 0.5
		}
		for _, sp := range it.Path.Subpaths {
			c.strokeSubpath(sp, half)
		}
		c.fill(toColor(it.Stroke))
	}
}

func (c *canvas) subpath(sp contentstream.Subpath) {
	for _, p := range sp.Points {
		switch p.Type {
		case contentstream.PathMoveTo:
			c.raster.MoveTo(float32(p.X), float32(p.Y))
		case contentstream.PathLineTo:
			c.raster.LineTo(float32(p.X), float32(p.Y))
		case contentstream.PathCurveTo:
			c.raster.CubeTo(float32(p.Control1X), float32(p.Control1Y), float32(p.Control2X), float32(p.Control2Y), float32(p.X), float32(p.Y))
		}
	}
	c.raster.ClosePath()
}

// strokeSubpath covers each segment with a quad of half-width w. Curves
// are flattened first.
func (c *canvas) strokeSubpath(sp contentstream.Subpath, w float64) {
	pts := flatten(sp)
	if sp.Closed && len(pts) > 1 {
		pts = append(pts, pts[0])
	}
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		vx, vy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(vx, vy)
		if l == 0 {
			continue
		}
		nx, ny := -vy/l*w, vx/l*w
		c.raster.MoveTo(float32(a.X+nx), float32(a.Y+ny))
		c.raster.LineTo(float32(b.X+nx), float32(b.Y+ny))
		c.raster.LineTo(float32(b.X-nx), float32(b.Y-ny))
		c.raster.LineTo(float32(a.X-nx), float32(a.Y-ny))
		c.raster.ClosePath()
	}
}

const curveSteps = 12

func flatten(sp contentstream.Subpath) []coords.Point {
	var out []coords.Point
	for _, p := range sp.Points {
		end := coords.Point{X: p.X, Y: p.Y}
		if p.Type != contentstream.PathCurveTo || len(out) == 0 {
			out = append(out, end)
			continue
		}
		p0 := out[len(out)-1]
		for s := 1; s <= curveSteps; s++ {
			t := float64(s) / curveSteps
			u := 1 - t
			out = append(out, coords.Point{
				X: u*u*u*p0.X + 3*u*u*t*p.Control1X + 3*u*t*t*p.Control2X + t*t*t*end.X,
				Y: u*u*u*p0.Y + 3*u*u*t*p.Control1Y + 3*u*t*t*p.Control2Y + t*t*t*end.Y,
			})
		}
	}
	return out
}

// text draws each glyph from a fixed bitmap face stretched to its box.
func (c *canvas) text(it contentstream.Item) {
	if !it.RenderMode.Visible() {
		return
	}
	col := it.Fill
	if it.RenderMode == contentstream.TextStroke || it.RenderMode == contentstream.TextStrokeClip {
		col = it.Stroke
	}
	src := image.NewUniform(toColor(col))
	face := basicfont.Face7x13
	for _, g := range it.Glyphs {
		if g.Code <= ' ' || g.Code > '~' {
			continue
		}
		box := g.Box.Intersect(coords.Rect{X1: float64(c.img.Bounds().Dx()), Y1: float64(c.img.Bounds().Dy())})
		dr := image.Rect(int(math.Floor(box.X0)), int(math.Floor(box.Y0)), int(math.Ceil(box.X1)), int(math.Ceil(box.Y1)))
		if dr.Empty() {
			continue
		}
		cell := image.NewAlpha(image.Rect(0, 0, face.Advance, face.Height))
		d := font.Drawer{Dst: cell, Src: image.Opaque, Face: face, Dot: fixed.P(0, face.Ascent)}
		d.DrawString(string(rune(g.Code)))
		mask := image.NewAlpha(dr)
		xdraw.ApproxBiLinear.Scale(mask, dr, cell, cell.Bounds(), draw.Src, nil)
		draw.DrawMask(c.img, dr, src, image.Point{}, mask, dr.Min, draw.Over)
	}
}

// image draws an image XObject through its full matrix. Images the
// decoder does not support show as a gray box.
func (c *canvas) image(res *contentstream.Resources, it contentstream.Item) {
	stm, _, ok := res.XObject(it.Name)
	if !ok {
		return
	}
	samples, err := extractor.DecodeImage(c.ctx, c.resolver, stm)
	if err != nil {
		c.log.Debug("image drawn as placeholder", observability.String("image", it.Name), observability.Error(err))
		c.placeholder(it.CTM)
		return
	}
	src := samples.Image()
	w, h := float64(samples.Width), float64(samples.Height)
	// Sample (sx, sy) sits at (sx/w, 1-sy/h) in the unit square.
	m := coords.Matrix{1 / w, 0, 0, -1 / h, 0, 1}.Multiply(it.CTM)
	if !m.Invertible() {
		return
	}
	aff := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	xdraw.BiLinear.Transform(c.img, aff, src, src.Bounds(), draw.Over, nil)
}

// placeholder fills the unit square under ctm.
func (c *canvas) placeholder(ctm coords.Matrix) {
	corners := []coords.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	for i, p := range corners {
		q := ctm.Transform(p)
		if i == 0 {
			c.raster.MoveTo(float32(q.X), float32(q.Y))
		} else {
			c.raster.LineTo(float32(q.X), float32(q.Y))
		}
	}
	c.raster.ClosePath()
	c.fill(placeholderGray)
}

type form struct {
	ops []contentstream.Operation
	res *contentstream.Resources
}

func formContent(c *canvas, parent *contentstream.Resources, name string) (form, bool) {
	stm, _, ok := parent.XObject(name)
	if !ok {
		return form{}, false
	}
	names, params := filters.ExtractFilters(stm.Dict)
	data, _, err := filters.Default(filters.Limits{}).Decode(c.ctx, stm.Data, names, params)
	if err != nil {
		c.log.Debug("form not decodable", observability.String("form", name), observability.Error(err))
		return form{}, false
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		c.log.Debug("form not parseable", observability.String("form", name), observability.Error(err))
		return form{}, false
	}
	res := parent
	resObj, _ := stm.Dict.Get("Resources")
	if d, ok := raw.AsDict(deref(c.resolver, resObj)); ok {
		res = contentstream.NewResources(c.resolver, d)
	}
	return form{ops: ops, res: res}, true
}

func deref(r raw.Resolver, o raw.Object) raw.Object {
	out, err := raw.Deref(r, o)
	if err != nil {
		return nil
	}
	return out
}
