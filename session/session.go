// Package session holds the one open document: current page, zoom, the
// last rendered raster and the gestures that turn pixels into masks.
package session

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/masks"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/render"
)

var (
	ErrPasswordRequired = errors.New("document needs a password")
	ErrPageRange        = errors.New("page out of range")
	ErrRender           = errors.New("page could not be rendered")
	ErrNoRaster         = errors.New("nothing rendered yet")
)

// maxPasswordAttempts bounds the prompts for one Open.
const maxPasswordAttempts = 3

// PasswordFunc asks for the password of path. ok=false cancels the open.
type PasswordFunc func(ctx context.Context, path string, attempt int) (password string, ok bool)

// MaskOverlay is the translucent red used for pending masks.
var MaskOverlay = color.NRGBA{R: 255, A: 90}

type Options struct {
	Logger   observability.Logger
	Password PasswordFunc
	LineArt  editor.LineArt
	Renderer *render.Renderer
	// BaseScale multiplies the zoom for rendering; render.DefaultBaseScale
	// when zero.
	BaseScale float64
	Zoom      ZoomBounds
}

// Session is created by Open and replaced as a whole when another file is
// opened.
type Session struct {
	id       string
	opts     Options
	log      observability.Logger
	doc      *document.Document
	password string
	page     int
	viewer   *Viewer
	renderer *render.Renderer
	last     *render.Raster
}

// Open opens path. An encrypted file is tried with the empty password
// first, then with what opts.Password returns.
func Open(ctx context.Context, path string, opts Options) (*Session, error) {
	if opts.BaseScale <= 0 {
		opts.BaseScale = render.DefaultBaseScale
	}
	id := uuid.NewString()
	log := observability.OrNop(opts.Logger).With(
		observability.String("session", id),
		observability.String("file", filepath.Base(path)))
	if opts.Renderer == nil {
		opts.Renderer = render.New(render.Options{Logger: log})
	}

	s := &Session{
		id:       id,
		opts:     opts,
		log:      log,
		viewer:   NewViewer(opts.Zoom),
		renderer: opts.Renderer,
	}
	doc, err := s.open(ctx, path, "")
	for attempt := 1; errors.Is(err, document.ErrInvalidPassword); attempt++ {
		if opts.Password == nil {
			return nil, ErrPasswordRequired
		}
		if attempt > maxPasswordAttempts {
			return nil, err
		}
		pw, ok := opts.Password(ctx, path, attempt)
		if !ok {
			return nil, ErrPasswordRequired
		}
		doc, err = s.open(ctx, path, pw)
		if err == nil {
			s.password = pw
		}
	}
	if err != nil {
		return nil, err
	}
	s.doc = doc
	log.Info("document opened",
		observability.Int("pages", doc.PageCount()),
		observability.Bool("encrypted", doc.Encrypted()))
	return s, nil
}

func (s *Session) open(ctx context.Context, path, password string) (*document.Document, error) {
	return document.Open(ctx, path, document.Options{
		Password: password,
		Logger:   s.log,
		LineArt:  s.opts.LineArt,
	})
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Document() *document.Document { return s.doc }
func (s *Session) Path() string                 { return s.doc.Path() }
func (s *Session) Logger() observability.Logger { return s.log }
func (s *Session) Viewer() *Viewer              { return s.viewer }

// Valid reports whether the session still holds a usable document.
func (s *Session) Valid() bool { return s != nil && s.doc.Valid() }

// Reload re-reads the file from disk, keeping the page index when the new
// file still has it. Pending edits in memory are dropped.
func (s *Session) Reload(ctx context.Context) error {
	doc, err := s.open(ctx, s.doc.Path(), s.password)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	s.doc.Close()
	s.doc = doc
	s.last = nil
	if s.page >= doc.PageCount() {
		s.page = max(doc.PageCount()-1, 0)
	}
	s.log.Info("document reloaded", observability.Int("page", s.page))
	return nil
}

func (s *Session) Close() error {
	s.last = nil
	if s.doc == nil {
		return nil
	}
	s.log.Debug("session closed")
	return s.doc.Close()
}

// Page is the zero-based current page.
func (s *Session) Page() int      { return s.page }
func (s *Session) PageCount() int { return s.doc.PageCount() }

// NextPage moves forward; false on the last page.
func (s *Session) NextPage() bool {
	if s.page+1 >= s.doc.PageCount() {
		return false
	}
	s.page++
	return true
}

// PrevPage moves back; false on the first page.
func (s *Session) PrevPage() bool {
	if s.page == 0 {
		return false
	}
	s.page--
	return true
}

func (s *Session) GoToPage(index int) error {
	if index < 0 || index >= s.doc.PageCount() {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, index+1, s.doc.PageCount())
	}
	s.page = index
	return nil
}

// PageInfo describes the current page.
func (s *Session) PageInfo() (document.PageInfo, error) { return s.doc.Page(s.page) }

// Render draws the current page at zoom times the base scale and keeps the
// raster for mapping gestures.
func (s *Session) Render(ctx context.Context) (*render.Raster, error) {
	r := s.renderer.RenderPage(ctx, s.doc, s.page, s.viewer.Zoom()*s.opts.BaseScale)
	if r == nil {
		return nil, fmt.Errorf("%w: page %d", ErrRender, s.page+1)
	}
	s.last = r
	return r, nil
}

// RenderWithOverlay renders like Render and paints the entries of store
// on the current page over it.
func (s *Session) RenderWithOverlay(ctx context.Context, store *masks.Store) (*render.Raster, error) {
	r, err := s.Render(ctx)
	if err != nil {
		return nil, err
	}
	var rects []coords.PixelRect
	for _, e := range store.ByPage(s.page) {
		if pr, ok := coords.PDFToPixel(e.Rect, r.Size(), r.Page.Size()); ok {
			rects = append(rects, pr)
		}
	}
	r.Overlay(rects, MaskOverlay)
	return r, nil
}

// LastRaster is the raster of the most recent Render; nil after a page
// change made it stale.
func (s *Session) LastRaster() *render.Raster {
	if s.last == nil || s.last.Page.Index != s.page {
		return nil
	}
	return s.last
}

// MapToPage converts a pixel rectangle on a raster of the given size to
// the current page's displayed space.
func (s *Session) MapToPage(r coords.PixelRect, rendered coords.Size) (coords.Rect, bool) {
	info, err := s.doc.Page(s.page)
	if err != nil {
		return coords.Rect{}, false
	}
	return coords.PixelToPDF(r, rendered, info.Size())
}

// MapFromRaster maps against the last raster of the current page.
func (s *Session) MapFromRaster(r coords.PixelRect) (coords.Rect, error) {
	last := s.LastRaster()
	if last == nil {
		return coords.Rect{}, ErrNoRaster
	}
	rect, ok := coords.PixelToPDF(r, last.Size(), last.Page.Size())
	if !ok {
		return coords.Rect{}, ErrNoRaster
	}
	return rect, nil
}
