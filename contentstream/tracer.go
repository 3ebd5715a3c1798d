package contentstream

import (
	"math"

	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/ir/raw"
)

type ItemKind int

const (
	ItemText ItemKind = iota
	ItemPath
	ItemImage
	ItemForm
	ItemInlineImage
	ItemShading
)

func (k ItemKind) String() string {
	switch k {
	case ItemText:
		return "text"
	case ItemPath:
		return "path"
	case ItemImage:
		return "image"
	case ItemForm:
		return "form"
	case ItemInlineImage:
		return "inline image"
	case ItemShading:
		return "shading"
	}
	return "unknown"
}

// Glyph is one shown character code.
type Glyph struct {
	// Elem indexes the TJ array element holding the code; 0 for Tj, ' and ".
	Elem       int
	Start, End int
	Code       int
	// Advance is the horizontal displacement in unscaled text space.
	Advance float64
	// Matrix maps glyph space (one unit = font size) to trace space.
	Matrix coords.Matrix
	Box    coords.Rect
}

// Item is something an operation paints. Boxes are in trace space: the
// space the tracer's initial CTM maps into.
type Item struct {
	Kind ItemKind
	Op   int
	// PathStart is the first path construction operation of a path item.
	PathStart int
	Box       coords.Rect
	CTM       coords.Matrix

	Path      Path
	Paint     Paint
	Fill      Color
	Stroke    Color
	LineWidth float64

	Glyphs     []Glyph
	Font       *Font
	FontSize   float64
	HScale     float64
	RenderMode TextRenderMode

	// Name is the XObject or shading resource name.
	Name string
	// Matrix maps form space to trace space for form items.
	Matrix coords.Matrix
}

var unbounded = coords.Rect{X0: -1e9, Y0: -1e9, X1: 1e9, Y1: 1e9}

// Tracer executes operations virtually and reports what they paint.
type Tracer struct {
	res *Resources
	ctm coords.Matrix
}

func NewTracer(res *Resources, ctm coords.Matrix) *Tracer {
	if res == nil {
		res = NewResources(nil, nil)
	}
	return &Tracer{res: res, ctm: ctm}
}

type traceRun struct {
	t     *Tracer
	gs    *GraphicsState
	tm    coords.Matrix
	tlm   coords.Matrix
	items []Item

	path      Path
	pathStart int
	pathBox   coords.Rect
	hasPath   bool
	cur       coords.Point
	start     coords.Point
	clip      bool
}

// Trace returns the painted items in content order.
func (t *Tracer) Trace(ops []Operation) []Item {
	run := &traceRun{
		t:         t,
		gs:        NewGraphicsState(t.ctm),
		tm:        coords.Identity(),
		tlm:       coords.Identity(),
		pathStart: -1,
	}
	for i, op := range ops {
		run.step(i, op)
	}
	return run.items
}

func (r *traceRun) step(i int, op Operation) {
	gs := r.gs
	switch op.Operator {
	case "q":
		gs.Save()
	case "Q":
		_ = gs.Restore()
	case "cm":
		if v, ok := op.Nums(); ok && len(v) == 6 {
			gs.CTM = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.Multiply(gs.CTM)
		}
	case "w":
		gs.LineWidth = op.Num(0)
	case "gs":
		if ext := dictOf(r.t.res.resolver, dictGet(r.t.res.Category("ExtGState"), op.Name(0))); ext != nil {
			if lw, ok := raw.AsFloat(deref(r.t.res.resolver, dictGet(ext, "LW"))); ok {
				gs.LineWidth = lw
			}
		}

	case "g", "rg", "k":
		if v, ok := op.Nums(); ok {
			gs.Fill = Color{Values: v}
			gs.fillComponents = len(v)
		}
	case "G", "RG", "K":
		if v, ok := op.Nums(); ok {
			gs.Stroke = Color{Values: v}
			gs.strokeComponents = len(v)
		}
	case "cs":
		gs.fillComponents = r.t.res.Components(op.Name(0))
		gs.Fill = Color{Values: make([]float64, gs.fillComponents)}
	case "CS":
		gs.strokeComponents = r.t.res.Components(op.Name(0))
		gs.Stroke = Color{Values: make([]float64, gs.strokeComponents)}
	case "sc", "scn":
		gs.Fill = Color{Values: numericPrefix(op)}
	case "SC", "SCN":
		gs.Stroke = Color{Values: numericPrefix(op)}

	case "m":
		r.beginPath(i)
		r.moveTo(coords.Point{X: op.Num(0), Y: op.Num(1)})
	case "l":
		r.beginPath(i)
		r.lineTo(coords.Point{X: op.Num(0), Y: op.Num(1)})
	case "c":
		r.beginPath(i)
		r.curveTo(coords.Point{X: op.Num(0), Y: op.Num(1)}, coords.Point{X: op.Num(2), Y: op.Num(3)}, coords.Point{X: op.Num(4), Y: op.Num(5)})
	case "v":
		r.beginPath(i)
		r.curveTo(r.cur, coords.Point{X: op.Num(0), Y: op.Num(1)}, coords.Point{X: op.Num(2), Y: op.Num(3)})
	case "y":
		r.beginPath(i)
		end := coords.Point{X: op.Num(2), Y: op.Num(3)}
		r.curveTo(coords.Point{X: op.Num(0), Y: op.Num(1)}, end, end)
	case "h":
		r.closePath()
	case "re":
		r.beginPath(i)
		x, y, w, h := op.Num(0), op.Num(1), op.Num(2), op.Num(3)
		r.moveTo(coords.Point{X: x, Y: y})
		r.lineTo(coords.Point{X: x + w, Y: y})
		r.lineTo(coords.Point{X: x + w, Y: y + h})
		r.lineTo(coords.Point{X: x, Y: y + h})
		r.closePath()
	case "W", "W*":
		r.clip = true
	case "S":
		r.paint(i, Paint{Stroke: true})
	case "s":
		r.closePath()
		r.paint(i, Paint{Stroke: true})
	case "f", "F":
		r.paint(i, Paint{Fill: true})
	case "f*":
		r.paint(i, Paint{Fill: true, EvenOdd: true})
	case "B":
		r.paint(i, Paint{Fill: true, Stroke: true})
	case "B*":
		r.paint(i, Paint{Fill: true, Stroke: true, EvenOdd: true})
	case "b":
		r.closePath()
		r.paint(i, Paint{Fill: true, Stroke: true})
	case "b*":
		r.closePath()
		r.paint(i, Paint{Fill: true, Stroke: true, EvenOdd: true})
	case "n":
		r.paint(i, Paint{})

	case "BT":
		r.tm, r.tlm = coords.Identity(), coords.Identity()
	case "Tc":
		gs.Text.CharSpacing = op.Num(0)
	case "Tw":
		gs.Text.WordSpacing = op.Num(0)
	case "Tz":
		gs.Text.HScale = op.Num(0) / 100
	case "TL":
		gs.Text.Leading = op.Num(0)
	case "Ts":
		gs.Text.Rise = op.Num(0)
	case "Tr":
		gs.Text.RenderMode = TextRenderMode(op.Num(0))
	case "Tf":
		gs.Text.Font = r.t.res.Font(op.Name(0))
		gs.Text.FontSize = op.Num(1)
	case "Td":
		r.moveText(op.Num(0), op.Num(1))
	case "TD":
		gs.Text.Leading = -op.Num(1)
		r.moveText(op.Num(0), op.Num(1))
	case "Tm":
		if v, ok := op.Nums(); ok && len(v) == 6 {
			r.tlm = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			r.tm = r.tlm
		}
	case "T*":
		r.moveText(0, -gs.Text.Leading)
	case "Tj":
		r.showText(i, op, 0)
	case "'":
		r.moveText(0, -gs.Text.Leading)
		r.showText(i, op, 0)
	case "\"":
		gs.Text.WordSpacing = op.Num(0)
		gs.Text.CharSpacing = op.Num(1)
		r.moveText(0, -gs.Text.Leading)
		r.showText(i, op, 2)
	case "TJ":
		r.showText(i, op, 0)

	case "Do":
		r.drawXObject(i, op.Name(0))
	case "BI":
		r.emit(Item{Kind: ItemInlineImage, Op: i, Box: gs.CTM.TransformRect(coords.Rect{X1: 1, Y1: 1})})
	case "sh":
		box := unbounded
		if gs.Clip != nil {
			box = *gs.Clip
		}
		r.emit(Item{Kind: ItemShading, Op: i, Box: box, Name: op.Name(0)})
	}
}

func numericPrefix(op Operation) []float64 {
	var out []float64
	for _, o := range op.Operands {
		f, ok := raw.AsFloat(o)
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

func (r *traceRun) emit(it Item) {
	it.CTM = r.gs.CTM
	it.Fill = r.gs.Fill
	it.Stroke = r.gs.Stroke
	it.LineWidth = r.gs.LineWidth
	r.items = append(r.items, it)
}

func (r *traceRun) beginPath(i int) {
	if !r.hasPath {
		r.hasPath = true
		r.pathStart = i
		r.path = Path{}
		r.pathBox = coords.Rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	}
}

func (r *traceRun) device(p coords.Point) coords.Point {
	q := r.gs.CTM.Transform(p)
	r.pathBox = r.pathBox.Extend(q)
	return q
}

func (r *traceRun) moveTo(p coords.Point) {
	q := r.device(p)
	r.path.Subpaths = append(r.path.Subpaths, Subpath{Points: []PathPoint{{X: q.X, Y: q.Y, Type: PathMoveTo}}})
	r.cur, r.start = p, p
}

func (r *traceRun) lastSubpath() *Subpath {
	if len(r.path.Subpaths) == 0 || r.path.Subpaths[len(r.path.Subpaths)-1].Closed {
		r.moveTo(r.cur)
	}
	return &r.path.Subpaths[len(r.path.Subpaths)-1]
}

func (r *traceRun) lineTo(p coords.Point) {
	sp := r.lastSubpath()
	q := r.device(p)
	sp.Points = append(sp.Points, PathPoint{X: q.X, Y: q.Y, Type: PathLineTo})
	r.cur = p
}

func (r *traceRun) curveTo(c1, c2, p coords.Point) {
	sp := r.lastSubpath()
	d1, d2, q := r.device(c1), r.device(c2), r.device(p)
	sp.Points = append(sp.Points, PathPoint{
		X: q.X, Y: q.Y, Type: PathCurveTo,
		Control1X: d1.X, Control1Y: d1.Y,
		Control2X: d2.X, Control2Y: d2.Y,
	})
	r.cur = p
}

func (r *traceRun) closePath() {
	if n := len(r.path.Subpaths); n > 0 {
		r.path.Subpaths[n-1].Closed = true
	}
	r.cur = r.start
}

func (r *traceRun) paint(i int, p Paint) {
	if !r.hasPath {
		r.clip = false
		return
	}
	p.Clip = r.clip
	box := r.pathBox
	if p.Stroke {
		half := r.gs.LineWidth * math.Sqrt(math.Abs(r.gs.CTM[0]*r.gs.CTM[3]-r.gs.CTM[1]*r.gs.CTM[2])) / 2
		box = coords.Rect{X0: box.X0 - half, Y0: box.Y0 - half, X1: box.X1 + half, Y1: box.Y1 + half}
	}
	if p.Fill || p.Stroke || p.Clip {
		r.emit(Item{Kind: ItemPath, Op: i, PathStart: r.pathStart, Box: box, Path: r.path, Paint: p})
	}
	if p.Clip {
		clip := box
		if r.gs.Clip != nil {
			clip = r.gs.Clip.Intersect(box)
		}
		r.gs.Clip = &clip
	}
	r.hasPath, r.pathStart = false, -1
	r.clip = false
}

func (r *traceRun) moveText(tx, ty float64) {
	r.tlm = coords.Translate(tx, ty).Multiply(r.tlm)
	r.tm = r.tlm
}

func (r *traceRun) showText(i int, op Operation, operand int) {
	if operand >= len(op.Operands) {
		return
	}
	ts := &r.gs.Text
	if ts.Font == nil {
		ts.Font = DefaultFont()
	}
	it := Item{
		Kind:       ItemText,
		Op:         i,
		Font:       ts.Font,
		FontSize:   ts.FontSize,
		HScale:     ts.HScale,
		RenderMode: ts.RenderMode,
	}
	switch v := op.Operands[operand].(type) {
	case raw.StringObj:
		it.Glyphs = r.showString(v.Bytes, 0, nil)
	case *raw.ArrayObj:
		for elem, e := range v.Items {
			switch ev := e.(type) {
			case raw.StringObj:
				it.Glyphs = r.showString(ev.Bytes, elem, it.Glyphs)
			case raw.NumberObj:
				tx := -ev.Float() / 1000 * ts.FontSize * ts.HScale
				r.tm = coords.Translate(tx, 0).Multiply(r.tm)
			}
		}
	}
	if len(it.Glyphs) == 0 {
		return
	}
	it.Box = it.Glyphs[0].Box
	for _, g := range it.Glyphs[1:] {
		it.Box = it.Box.Union(g.Box)
	}
	r.emit(it)
}

func (r *traceRun) showString(s []byte, elem int, glyphs []Glyph) []Glyph {
	ts := &r.gs.Text
	f := ts.Font
	for _, c := range f.Codes(s) {
		w0 := f.Width(c.Value)
		trm := coords.Matrix{ts.FontSize * ts.HScale, 0, 0, ts.FontSize, 0, ts.Rise}.Multiply(r.tm).Multiply(r.gs.CTM)
		tx := w0*ts.FontSize + ts.CharSpacing
		if f.WordSpaceApplies(c) {
			tx += ts.WordSpacing
		}
		tx *= ts.HScale
		glyphs = append(glyphs, Glyph{
			Elem:    elem,
			Start:   c.Start,
			End:     c.End,
			Code:    c.Value,
			Advance: tx,
			Matrix:  trm,
			Box:     trm.TransformRect(coords.Rect{X0: 0, Y0: f.Descent, X1: w0, Y1: f.Ascent}),
		})
		r.tm = coords.Translate(tx, 0).Multiply(r.tm)
	}
	return glyphs
}

func (r *traceRun) drawXObject(i int, name string) {
	stm, _, ok := r.t.res.XObject(name)
	if !ok {
		return
	}
	resolver := r.t.res.resolver
	switch nameOf(resolver, stm.Dict, "Subtype") {
	case "Image":
		r.emit(Item{Kind: ItemImage, Op: i, Name: name, Box: r.gs.CTM.TransformRect(coords.Rect{X1: 1, Y1: 1})})
	case "Form":
		m := coords.Identity()
		if v, ok := raw.Floats(deref(resolver, dictGet(stm.Dict, "Matrix"))); ok && len(v) == 6 {
			m = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
		}
		full := m.Multiply(r.gs.CTM)
		box := unbounded
		if v, ok := raw.Floats(deref(resolver, dictGet(stm.Dict, "BBox"))); ok {
			if bbox, ok := coords.RectFromArray(v); ok {
				box = full.TransformRect(bbox)
			}
		}
		r.emit(Item{Kind: ItemForm, Op: i, Name: name, Box: box, Matrix: full})
	}
}
