// Package extractor pulls pixel data out of image XObjects so they can be
// previewed or partially whitened, and packs edited pixels back into a
// stream.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
)

var ErrUnsupportedImage = errors.New("unsupported image encoding")

// Samples holds decoded 8-bit samples of an image, row-major from the top.
type Samples struct {
	Width      int
	Height     int
	Components int
	Pix        []byte
}

// DecodeImage reads an image XObject. Eight-bit Gray, RGB and CMYK images
// stored raw or with byte-stream filters are supported, as are baseline
// JPEGs. Everything else returns ErrUnsupportedImage.
func DecodeImage(ctx context.Context, r raw.Resolver, stm *raw.StreamObj) (*Samples, error) {
	d := stm.Dict
	if b, ok := deref(r, get(d, "ImageMask")).(raw.BoolObj); ok && b.V {
		return nil, fmt.Errorf("%w: stencil mask", ErrUnsupportedImage)
	}
	if _, ok := d.Get("Decode"); ok {
		return nil, fmt.Errorf("%w: decode array", ErrUnsupportedImage)
	}
	w, _ := raw.AsInt(deref(r, get(d, "Width")))
	h, _ := raw.AsInt(deref(r, get(d, "Height")))
	if w <= 0 || h <= 0 || w*h > 1<<26 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrUnsupportedImage, w, h)
	}

	names, params := filters.ExtractFilters(d)
	data, codec, err := filters.Default(filters.Limits{}).Decode(ctx, stm.Data, names, params)
	if err != nil {
		return nil, err
	}
	switch codec {
	case "":
	case "DCTDecode":
		return decodeJPEG(data, int(w), int(h))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, codec)
	}

	if bpc, _ := raw.AsInt(deref(r, get(d, "BitsPerComponent"))); bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedImage, bpc)
	}
	n := colorComponents(r, deref(r, get(d, "ColorSpace")))
	if n == 0 {
		return nil, fmt.Errorf("%w: color space", ErrUnsupportedImage)
	}
	size := int(w) * int(h) * n
	if len(data) < size {
		return nil, fmt.Errorf("image data truncated: %d of %d bytes", len(data), size)
	}
	return &Samples{Width: int(w), Height: int(h), Components: n, Pix: append([]byte(nil), data[:size]...)}, nil
}

func decodeJPEG(data []byte, w, h int) (*Samples, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("jpeg is %dx%d, dictionary says %dx%d", b.Dx(), b.Dy(), w, h)
	}
	switch m := img.(type) {
	case *image.Gray:
		s := &Samples{Width: w, Height: h, Components: 1, Pix: make([]byte, 0, w*h)}
		for y := 0; y < h; y++ {
			s.Pix = append(s.Pix, m.Pix[y*m.Stride:y*m.Stride+w]...)
		}
		return s, nil
	case *image.CMYK:
		s := &Samples{Width: w, Height: h, Components: 4, Pix: make([]byte, 0, w*h*4)}
		for y := 0; y < h; y++ {
			s.Pix = append(s.Pix, m.Pix[y*m.Stride:y*m.Stride+w*4]...)
		}
		return s, nil
	}
	s := &Samples{Width: w, Height: h, Components: 3, Pix: make([]byte, 0, w*h*3)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			s.Pix = append(s.Pix, c.R, c.G, c.B)
		}
	}
	return s, nil
}

// Whiten paints the pixel rectangle [x0,x1)×[y0,y1) white, clamped to the
// image, and returns the number of pixels changed.
func (s *Samples) Whiten(x0, y0, x1, y1 int) int {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, s.Width), min(y1, s.Height)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	var white byte = 255
	if s.Components == 4 {
		white = 0
	}
	for y := y0; y < y1; y++ {
		row := s.Pix[(y*s.Width+x0)*s.Components : (y*s.Width+x1)*s.Components]
		for i := range row {
			row[i] = white
		}
	}
	return (x1 - x0) * (y1 - y0)
}

// Image wraps the samples in a standard image without copying where the
// layouts agree.
func (s *Samples) Image() image.Image {
	r := image.Rect(0, 0, s.Width, s.Height)
	switch s.Components {
	case 1:
		return &image.Gray{Pix: s.Pix, Stride: s.Width, Rect: r}
	case 4:
		return &image.CMYK{Pix: s.Pix, Stride: s.Width * 4, Rect: r}
	}
	return &rgbImage{Pix: s.Pix, Stride: s.Width * 3, Rect: r}
}

// Stream packs the samples into a Flate-encoded image XObject. Entries of
// orig other than the encoding are kept, so /SMask and /Interpolate
// survive.
func (s *Samples) Stream(orig *raw.DictObj) (*raw.StreamObj, error) {
	data, err := filters.FlateEncode(s.Pix)
	if err != nil {
		return nil, err
	}
	d := raw.Dict()
	for _, k := range orig.Keys() {
		switch k {
		case "Filter", "DecodeParms", "Length", "DL":
			continue
		}
		d.Set(k, orig.KV[k])
	}
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	d.Set("Width", raw.NumberInt(int64(s.Width)))
	d.Set("Height", raw.NumberInt(int64(s.Height)))
	switch s.Components {
	case 1:
		d.Set("ColorSpace", raw.NameLiteral("DeviceGray"))
	case 4:
		d.Set("ColorSpace", raw.NameLiteral("DeviceCMYK"))
	default:
		d.Set("ColorSpace", raw.NameLiteral("DeviceRGB"))
	}
	return raw.NewStream(d, data), nil
}

func colorComponents(r raw.Resolver, cs raw.Object) int {
	switch v := cs.(type) {
	case raw.NameObj:
		switch v.Val {
		case "DeviceGray", "CalGray", "G":
			return 1
		case "DeviceRGB", "CalRGB", "RGB":
			return 3
		case "DeviceCMYK", "CMYK":
			return 4
		}
	case *raw.ArrayObj:
		if len(v.Items) < 2 {
			return 0
		}
		family, _ := raw.AsName(v.Items[0])
		switch family {
		case "CalGray":
			return 1
		case "CalRGB":
			return 3
		case "ICCBased":
			if stm, ok := deref(r, v.Items[1]).(*raw.StreamObj); ok {
				if n, ok := raw.AsInt(deref(r, get(stm.Dict, "N"))); ok && (n == 1 || n == 3 || n == 4) {
					return int(n)
				}
			}
		}
	}
	return 0
}

func get(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func deref(r raw.Resolver, o raw.Object) raw.Object {
	if o == nil {
		return nil
	}
	v, err := raw.Deref(r, o)
	if err != nil {
		return nil
	}
	return v
}

type rgbImage struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (p *rgbImage) ColorModel() color.Model { return color.RGBAModel }
func (p *rgbImage) Bounds() image.Rectangle { return p.Rect }
func (p *rgbImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 255}
}
