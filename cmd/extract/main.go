package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/extractor"
	"github.com/wudi/pdfmask/render"
)

type featureSelection struct {
	Text   bool
	Images bool
	Render bool
}

type options struct {
	pdfPath  string
	outDir   string
	password string
	page     int
	zoom     float64
	features featureSelection
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/extract [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	text := flag.Bool("text", false, "List text runs with their boxes in page coordinates")
	images := flag.Bool("images", false, "Decode image XObjects to PNG files")
	renderPages := flag.Bool("render", false, "Render pages to PNG files")
	page := flag.Int("page", 0, "Page number to inspect (1-based, 0 for all)")
	zoom := flag.Float64("zoom", render.DefaultBaseScale, "Zoom used by -render")
	outDir := flag.String("out", "extract_output", "Directory for binary artifacts (images/renders)")
	password := flag.String("password", "", "Password to open encrypted PDFs")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	if *page < 0 {
		return options{}, fmt.Errorf("invalid page %d", *page)
	}
	if *zoom <= 0 {
		return options{}, fmt.Errorf("invalid zoom %v", *zoom)
	}
	opts.pdfPath = flag.Arg(0)
	opts.outDir = *outDir
	opts.password = *password
	opts.page = *page
	opts.zoom = *zoom
	opts.features = featureSelection{
		Text:   *text,
		Images: *images,
		Render: *renderPages,
	}
	if !opts.features.Text && !opts.features.Images && !opts.features.Render {
		opts.features.Text = true
	}
	return opts, nil
}

type pageSummary struct {
	Page      int     `json:"page"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Rotate    int     `json:"rotate"`
	Encrypted bool    `json:"encrypted,omitempty"`
}

type textRun struct {
	Page     int        `json:"page"`
	Text     string     `json:"text"`
	Font     string     `json:"font,omitempty"`
	FontSize float64    `json:"font_size"`
	Box      [4]float64 `json:"box"`
}

type imageSummary struct {
	Page   int        `json:"page"`
	Name   string     `json:"name"`
	Width  int        `json:"width,omitempty"`
	Height int        `json:"height,omitempty"`
	Box    [4]float64 `json:"box"`
	File   string     `json:"file,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func run(ctx context.Context, opts options) error {
	doc, err := document.Open(ctx, opts.pdfPath, document.Options{Password: opts.password})
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages, err := selectPages(doc.PageCount(), opts.page)
	if err != nil {
		return err
	}

	var summaries []pageSummary
	for _, idx := range pages {
		info, err := doc.Page(idx)
		if err != nil {
			return err
		}
		summaries = append(summaries, pageSummary{
			Page:      idx + 1,
			Width:     info.Width,
			Height:    info.Height,
			Rotate:    info.Rotate,
			Encrypted: doc.Encrypted(),
		})
	}
	if err := emitSection("pages", summaries); err != nil {
		return err
	}

	if opts.features.Text || opts.features.Images {
		var runs []textRun
		var images []imageSummary
		for _, idx := range pages {
			r, im, err := tracePage(ctx, doc, idx, opts)
			if err != nil {
				return err
			}
			runs = append(runs, r...)
			images = append(images, im...)
		}
		if opts.features.Text {
			if err := emitSection("text", runs); err != nil {
				return err
			}
		}
		if opts.features.Images {
			if err := emitSection("images", images); err != nil {
				return err
			}
		}
	}

	if opts.features.Render {
		files, err := writeRenders(ctx, doc, pages, opts)
		if err != nil {
			return err
		}
		if err := emitSection("renders", files); err != nil {
			return err
		}
	}
	return nil
}

func selectPages(count, page int) ([]int, error) {
	if page > count {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, count)
	}
	if page > 0 {
		return []int{page - 1}, nil
	}
	out := make([]int, count)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

// tracePage reports boxes in displayed page space, the space masks are
// stored in.
func tracePage(ctx context.Context, doc *document.Document, idx int, opts options) ([]textRun, []imageSummary, error) {
	content, err := doc.PageContent(ctx, idx)
	if err != nil {
		return nil, nil, err
	}
	res := contentstream.NewResources(doc, content.Resources)
	items := contentstream.NewTracer(res, content.Info.ToPage).Trace(content.Ops)

	var runs []textRun
	var images []imageSummary
	for _, it := range items {
		switch it.Kind {
		case contentstream.ItemText:
			if !opts.features.Text || len(it.Glyphs) == 0 {
				continue
			}
			run := textRun{Page: idx + 1, Text: glyphText(it), FontSize: it.FontSize, Box: box(it.Box)}
			if it.Font != nil {
				run.Font = it.Font.BaseFont
			}
			runs = append(runs, run)
		case contentstream.ItemImage:
			if !opts.features.Images {
				continue
			}
			images = append(images, writeImage(ctx, doc, res, idx, it, opts.outDir))
		}
	}
	return runs, images, nil
}

func writeImage(ctx context.Context, doc *document.Document, res *contentstream.Resources, idx int, it contentstream.Item, outDir string) imageSummary {
	summary := imageSummary{Page: idx + 1, Name: it.Name, Box: box(it.Box)}
	stm, _, ok := res.XObject(it.Name)
	if !ok {
		summary.Error = "xobject not found"
		return summary
	}
	samples, err := extractor.DecodeImage(ctx, doc, stm)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	summary.Width, summary.Height = samples.Width, samples.Height

	dir := filepath.Join(outDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		summary.Error = err.Error()
		return summary
	}
	path := filepath.Join(dir, fmt.Sprintf("page%03d_%s.png", idx+1, safeName(it.Name)))
	f, err := os.Create(path)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	defer f.Close()
	if err := png.Encode(f, samples.Image()); err != nil {
		summary.Error = err.Error()
		return summary
	}
	summary.File = path
	return summary
}

func writeRenders(ctx context.Context, doc *document.Document, pages []int, opts options) ([]string, error) {
	dir := filepath.Join(opts.outDir, "renders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	r := render.New(render.Options{})
	var files []string
	for _, idx := range pages {
		raster := r.RenderPage(ctx, doc, idx, opts.zoom)
		if raster == nil {
			fmt.Fprintf(os.Stderr, "extract: page %d could not be rendered\n", idx+1)
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("page%03d.png", idx+1))
		if err := writePNG(path, raster); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func writePNG(path string, raster *render.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := raster.EncodePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// glyphText shows single-byte codes as characters and two-byte codes as
// hex, since no ToUnicode mapping is applied.
func glyphText(it contentstream.Item) string {
	var b strings.Builder
	twoByte := it.Font != nil && it.Font.TwoByte
	for _, g := range it.Glyphs {
		switch {
		case twoByte:
			fmt.Fprintf(&b, "<%04X>", g.Code)
		case g.Code >= 0x20 && g.Code < 0x7f:
			b.WriteByte(byte(g.Code))
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func box(r coords.Rect) [4]float64 {
	n := r.Normalize()
	return [4]float64{round2(n.X0), round2(n.Y0), round2(n.X1), round2(n.Y1)}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	return sanitized
}
