package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmask/builder"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/masks"
)

func threePages(t *testing.T) string {
	t.Helper()
	b := builder.New()
	for range 3 {
		b.NewPage(600, 800).DrawText("Account 1234", 100, 700, builder.TextOptions{FontSize: 12})
	}
	return writeFile(t, b)
}

func writeFile(t *testing.T, b builder.PDFBuilder) string {
	t.Helper()
	data, err := b.Build()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func openSession(t *testing.T, path string, opts Options) *Session {
	t.Helper()
	s, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNavigation(t *testing.T) {
	s := openSession(t, threePages(t), Options{})
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 3, s.PageCount())
	assert.Equal(t, 0, s.Page())

	assert.False(t, s.PrevPage())
	assert.True(t, s.NextPage())
	assert.True(t, s.NextPage())
	assert.False(t, s.NextPage())
	assert.Equal(t, 2, s.Page())

	require.NoError(t, s.GoToPage(1))
	assert.ErrorIs(t, s.GoToPage(3), ErrPageRange)
	assert.ErrorIs(t, s.GoToPage(-1), ErrPageRange)
	assert.Equal(t, 1, s.Page())
}

func TestSessionsHaveDistinctIDs(t *testing.T) {
	path := threePages(t)
	a := openSession(t, path, Options{})
	b := openSession(t, path, Options{})
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestViewerBounds(t *testing.T) {
	v := NewViewer(ZoomBounds{})
	assert.Equal(t, 1.0, v.Zoom())
	for range 20 {
		v.ZoomIn()
	}
	assert.Equal(t, 2.0, v.Zoom())
	for range 30 {
		v.ZoomOut()
	}
	assert.Equal(t, 0.5, v.Zoom())
	v.ZoomIn()
	v.ZoomIn()
	v.ZoomIn()
	assert.Equal(t, 0.8, v.Zoom(), "steps must not drift")

	var z Zoomable = NewViewer(ZoomBounds{Min: 1.5, Max: 3, Step: 0.5})
	assert.Equal(t, 1.5, z.Zoom(), "reset clamps to the minimum")
	assert.Equal(t, 2.0, z.ZoomIn())
}

func TestRenderUsesZoomAndBaseScale(t *testing.T) {
	s := openSession(t, threePages(t), Options{})
	r, err := s.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coords.Size{W: 900, H: 1200}, r.Size())

	s.Viewer().ZoomOut()
	r, err = s.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coords.Size{W: 810, H: 1080}, r.Size())

	s.NextPage()
	assert.Nil(t, s.LastRaster(), "raster of another page is stale")
}

func TestRenderWithOverlay(t *testing.T) {
	s := openSession(t, threePages(t), Options{BaseScale: 1})
	store := masks.NewStore()
	store.Add(masks.Entry{PageIndex: 0, Rect: coords.Rect{X0: 300, Y0: 400, X1: 400, Y1: 500}})
	store.Add(masks.Entry{PageIndex: 1, Rect: coords.Rect{X0: 0, Y0: 0, X1: 100, Y1: 100}})

	r, err := s.RenderWithOverlay(context.Background(), store)
	require.NoError(t, err)
	inside := r.Image.RGBAAt(350, 450)
	assert.Equal(t, uint8(255), inside.R)
	assert.Less(t, inside.G, uint8(255))
	outside := r.Image.RGBAAt(50, 50)
	assert.Equal(t, uint8(255), outside.G, "mask of another page drawn")
}

func TestDragTracker(t *testing.T) {
	s := openSession(t, threePages(t), Options{})
	store := masks.NewStore()
	d := NewDragTracker(s, store, ModCtrl)

	// Nothing rendered yet.
	require.True(t, d.Begin(0, 0, ButtonPrimary, ModCtrl))
	_, ok := d.End(90, 120)
	assert.False(t, ok)

	_, err := s.Render(context.Background())
	require.NoError(t, err)

	assert.False(t, d.Begin(0, 0, ButtonPrimary, ModShift), "plain drags pan")
	_, ok = d.End(90, 120)
	assert.False(t, ok)
	assert.False(t, d.Begin(0, 0, ButtonSecondary, ModCtrl))

	require.True(t, d.Begin(180, 240, ButtonPrimary, ModCtrl|ModShift))
	d.Move(100, 100)
	preview, active := d.Preview()
	assert.True(t, active)
	assert.Equal(t, coords.PixelRect{X0: 100, Y0: 100, X1: 180, Y1: 240}, preview)
	idx, ok := d.End(90, 120)
	require.True(t, ok)
	e, _ := store.At(idx)
	assert.Equal(t, 0, e.PageIndex)
	assert.InDelta(t, 60, e.Rect.X0, 1e-9)
	assert.InDelta(t, 80, e.Rect.Y0, 1e-9)
	assert.InDelta(t, 120, e.Rect.X1, 1e-9)
	assert.InDelta(t, 160, e.Rect.Y1, 1e-9)

	require.True(t, d.Begin(10, 10, ButtonPrimary, ModCtrl))
	_, ok = d.End(10, 50)
	assert.False(t, ok, "zero width")
	assert.Equal(t, 1, store.Len())
}

func TestMapToPage(t *testing.T) {
	s := openSession(t, threePages(t), Options{})
	require.NoError(t, s.GoToPage(1))
	rect, ok := s.MapToPage(coords.PixelRect{X0: 100, Y0: 100, X1: 200, Y1: 150}, coords.Size{W: 800, H: 1000})
	require.True(t, ok)
	assert.InDelta(t, 75, rect.X0, 1e-9)
	assert.InDelta(t, 80, rect.Y0, 1e-9)
	assert.InDelta(t, 150, rect.X1, 1e-9)
	assert.InDelta(t, 120, rect.Y1, 1e-9)

	_, ok = s.MapToPage(coords.PixelRect{X1: 1, Y1: 1}, coords.Size{})
	assert.False(t, ok)
}

func TestEncryptedOpen(t *testing.T) {
	path := writeFile(t, builder.New().SetEncryption("owner", "user", 4).NewPage(200, 200).Finish())

	_, err := Open(context.Background(), path, Options{})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	var attempts []int
	ask := func(_ context.Context, _ string, attempt int) (string, bool) {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return "wrong", true
		}
		return "user", true
	}
	s := openSession(t, path, Options{Password: ask})
	assert.Equal(t, []int{1, 2}, attempts)
	assert.True(t, s.Document().Encrypted())
	require.NoError(t, s.Reload(context.Background()), "reload reuses the password")

	cancel := func(context.Context, string, int) (string, bool) { return "", false }
	_, err = Open(context.Background(), path, Options{Password: cancel})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	never := func(context.Context, string, int) (string, bool) { return "nope", true }
	_, err = Open(context.Background(), path, Options{Password: never})
	assert.Error(t, err)
}

func TestReloadClampsPage(t *testing.T) {
	path := threePages(t)
	s := openSession(t, path, Options{})
	require.NoError(t, s.GoToPage(2))

	one, err := builder.New().NewPage(100, 100).Finish().Build()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, one, 0o644))
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 0, s.Page())
	assert.Equal(t, 1, s.PageCount())
}

func TestParseModifier(t *testing.T) {
	m, err := ParseModifier("Ctrl")
	require.NoError(t, err)
	assert.Equal(t, ModCtrl, m)
	m, _ = ParseModifier("cmd")
	assert.Equal(t, ModMeta, m)
	_, err = ParseModifier("hyper")
	assert.Error(t, err)
}
