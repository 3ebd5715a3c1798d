package builder

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/wudi/pdfmask/ir/raw"
)

// Image is an 8-bit raster for DrawImage. Pix holds Components bytes per
// pixel, rows top to bottom. Alpha, when set, becomes a soft mask.
type Image struct {
	Width      int
	Height     int
	Components int
	Pix        []byte
	Alpha      []byte
	// JPEG stores the samples DCT-encoded instead of Flate.
	JPEG bool
}

// FromImage converts a Go image to an RGB Image with a soft mask when any
// pixel is not opaque.
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	img := &Image{Width: w, Height: h, Components: 3, Pix: make([]byte, 0, w*h*3)}
	alpha := make([]byte, 0, w*h)
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		px := nrgba.Pix[i*4 : i*4+4]
		img.Pix = append(img.Pix, px[0], px[1], px[2])
		alpha = append(alpha, px[3])
		if px[3] < 255 {
			hasAlpha = true
		}
	}
	if hasAlpha {
		img.Alpha = alpha
	}
	return img
}

// Gray returns a Width×Height image filled with one gray level.
func Gray(width, height int, level byte) *Image {
	pix := bytes.Repeat([]byte{level}, width*height)
	return &Image{Width: width, Height: height, Components: 1, Pix: pix}
}

func (b *builderImpl) imageObject(img *Image, add func(raw.Object) raw.RefObj) (*raw.StreamObj, error) {
	if img.Components != 1 && img.Components != 3 {
		return nil, fmt.Errorf("image: unsupported component count %d", img.Components)
	}
	if len(img.Pix) != img.Width*img.Height*img.Components {
		return nil, fmt.Errorf("image: %d bytes for %dx%dx%d samples", len(img.Pix), img.Width, img.Height, img.Components)
	}
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(img.Width)))
	d.Set("Height", raw.NumberInt(int64(img.Height)))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	space := "DeviceRGB"
	if img.Components == 1 {
		space = "DeviceGray"
	}
	d.Set("ColorSpace", raw.NameLiteral(space))

	if img.Alpha != nil {
		mask, err := b.imageObject(&Image{Width: img.Width, Height: img.Height, Components: 1, Pix: img.Alpha}, add)
		if err != nil {
			return nil, fmt.Errorf("soft mask: %w", err)
		}
		d.Set("SMask", add(mask))
	}
	if img.JPEG {
		data, err := encodeJPEG(img)
		if err != nil {
			return nil, err
		}
		d.Set("Filter", raw.NameLiteral("DCTDecode"))
		return raw.NewStream(d, data), nil
	}
	return b.stream(d, img.Pix)
}

func encodeJPEG(img *Image) ([]byte, error) {
	var src image.Image
	if img.Components == 1 {
		src = &image.Gray{Pix: img.Pix, Stride: img.Width, Rect: image.Rect(0, 0, img.Width, img.Height)}
	} else {
		rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
		for i := 0; i < img.Width*img.Height; i++ {
			copy(rgba.Pix[i*4:], img.Pix[i*3:i*3+3])
			rgba.Pix[i*4+3] = 255
		}
		src = rgba
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
