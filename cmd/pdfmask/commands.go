package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pdfmask/batch"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/session"
)

func (a *app) commands() map[string]command {
	return map[string]command{
		"open":    {"open <file.pdf>", a.cmdOpen},
		"folder":  {"folder <dir>", a.cmdFolder},
		"next":    {"next                 next page", a.cmdNext},
		"prev":    {"prev                 previous page", a.cmdPrev},
		"page":    {"page <n>", a.cmdPage},
		"zoom":    {"zoom in|out", a.cmdZoom},
		"render":  {"render <out.png>     render the page with pending masks", a.cmdRender},
		"drag":    {"drag <x0> <y0> <x1> <y1>  mark a rectangle in pixels of the last render", a.cmdDrag},
		"list":    {"list                 pending masks", a.cmdList},
		"note":    {"note <i> <text>", a.cmdNote},
		"delete":  {"delete <i>...", a.cmdDelete},
		"save":    {"save                 apply pending masks and save", a.cmdSave},
		"retry":   {"retry                save again after a failed save", a.cmdRetry},
		"skip":    {"skip                 next file without saving", a.cmdSkip},
		"reload":  {"reload               re-read the file from disk", a.cmdReload},
		"files":   {"files                files of the batch", a.cmdFiles},
		"goto":    {"goto <i>             open file i of the batch", a.cmdGoto},
		"license": {"license <serial>", a.cmdLicense},
	}
}

func (a *app) session() (*session.Session, error) {
	s := a.ctrl.Session()
	if s == nil || a.ctrl.State() == batch.StateIdle {
		return nil, batch.ErrNoFileActive
	}
	return s, nil
}

func (a *app) cmdOpen(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: open <file.pdf>")
	}
	return a.ctrl.OpenFile(ctx, strings.Join(args, " "))
}

func (a *app) cmdFolder(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: folder <dir>")
	}
	return a.ctrl.OpenFolder(ctx, strings.Join(args, " "))
}

func (a *app) cmdNext(context.Context, []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if !s.NextPage() {
		fmt.Fprintln(a.out, "Already on the last page.")
	}
	return nil
}

func (a *app) cmdPrev(context.Context, []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if !s.PrevPage() {
		fmt.Fprintln(a.out, "Already on the first page.")
	}
	return nil
}

func (a *app) cmdPage(_ context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	n, err := intArg(args, 0)
	if err != nil {
		return err
	}
	return s.GoToPage(n - 1)
}

func (a *app) cmdZoom(_ context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	var z session.Zoomable = s.Viewer()
	switch strings.Join(args, " ") {
	case "in", "+":
		z.ZoomIn()
	case "out", "-":
		z.ZoomOut()
	default:
		return errors.New("usage: zoom in|out")
	}
	fmt.Fprintf(a.out, "Zoom %d%%\n", int(z.Zoom()*100+0.5))
	return nil
}

func (a *app) cmdRender(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("usage: render <out.png>")
	}
	r, err := s.RenderWithOverlay(ctx, a.ctrl.Store())
	if err != nil {
		return err
	}
	out := strings.Join(args, " ")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := r.EncodePNG(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	size := r.Size()
	fmt.Fprintf(a.out, "Page %d rendered to %s (%dx%d)\n", s.Page()+1, out, size.W, size.H)
	return nil
}

// cmdDrag replays a modifier+primary drag on the last render.
func (a *app) cmdDrag(_ context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	var v [4]int
	for i := range v {
		if v[i], err = intArg(args, i); err != nil {
			return errors.New("usage: drag <x0> <y0> <x1> <y1>")
		}
	}
	if s.LastRaster() == nil {
		return session.ErrNoRaster
	}
	d := session.NewDragTracker(s, a.ctrl.Store(), a.modifier)
	d.Begin(v[0], v[1], session.ButtonPrimary, a.modifier)
	i, ok := d.End(v[2], v[3])
	if !ok {
		return errors.New("the rectangle has no area")
	}
	e, _ := a.ctrl.Store().At(i)
	fmt.Fprintf(a.out, "Mask %d on page %d: %s\n", i+1, e.PageIndex+1, formatRect(e.Rect))
	return nil
}

func (a *app) cmdList(context.Context, []string) error {
	store := a.ctrl.Store()
	if store.Len() == 0 {
		fmt.Fprintln(a.out, "No pending masks.")
		return nil
	}
	for i, e := range store.All() {
		fmt.Fprintf(a.out, "%3d  page %-3d %s  %s\n", i+1, e.PageIndex+1, formatRect(e.Rect), e.Note)
	}
	return nil
}

func (a *app) cmdNote(_ context.Context, args []string) error {
	i, err := intArg(args, 0)
	if err != nil {
		return err
	}
	if _, ok := a.ctrl.Store().At(i - 1); !ok {
		return fmt.Errorf("no mask %d", i)
	}
	a.ctrl.Store().UpdateNote(i-1, strings.Join(args[1:], " "))
	return nil
}

func (a *app) cmdDelete(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: delete <i>...")
	}
	idx := make([]int, 0, len(args))
	for k := range args {
		n, err := intArg(args, k)
		if err != nil {
			return err
		}
		idx = append(idx, n-1)
	}
	n := a.ctrl.Store().RemoveAt(idx...)
	fmt.Fprintf(a.out, "%d mask(s) deleted.\n", n)
	return nil
}

func (a *app) cmdSave(ctx context.Context, _ []string) error {
	if a.ctrl.State() == batch.StateFileActive && a.ctrl.Store().Len() == 0 {
		if !yes(a.in, a.out, "No masks on this file. Move on without masking?") {
			return nil
		}
		_, err := a.ctrl.Skip(ctx)
		return err
	}
	res, err := a.ctrl.Commit(ctx)
	if err != nil {
		return err
	}
	a.printCommit(res)
	return nil
}

func (a *app) cmdRetry(ctx context.Context, _ []string) error {
	res, err := a.ctrl.RetrySave(ctx)
	if err != nil {
		return err
	}
	a.printCommit(res)
	return nil
}

func (a *app) printCommit(res *batch.CommitResult) {
	fmt.Fprintf(a.out, "%d mask(s) applied and saved.\n", res.Report.Masks())
	if res.Done {
		fmt.Fprintln(a.out, "All files of the batch are done.")
	}
}

func (a *app) cmdSkip(ctx context.Context, _ []string) error {
	_, err := a.ctrl.Skip(ctx)
	if err == nil && a.ctrl.State() == batch.StateCompleted {
		fmt.Fprintln(a.out, "All files of the batch are done.")
	}
	return err
}

func (a *app) cmdReload(ctx context.Context, _ []string) error { return a.ctrl.Reload(ctx) }

func (a *app) cmdFiles(context.Context, []string) error {
	files := a.ctrl.Files()
	if len(files) == 0 {
		fmt.Fprintln(a.out, "No files loaded.")
		return nil
	}
	for i, f := range files {
		mark := " "
		if a.ctrl.IsCompleted(f) {
			mark = "✓"
		}
		cur := " "
		if i == a.ctrl.Index() {
			cur = ">"
		}
		fmt.Fprintf(a.out, "%s%s %3d  %s\n", cur, mark, i+1, filepath.Base(f))
	}
	return nil
}

func (a *app) cmdGoto(ctx context.Context, args []string) error {
	i, err := intArg(args, 0)
	if err != nil {
		return err
	}
	return a.ctrl.Jump(ctx, i-1)
}

func (a *app) cmdLicense(ctx context.Context, args []string) error {
	if err := a.license.Activate(ctx, strings.Join(args, "")); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "License activated.")
	return nil
}

func formatRect(r coords.Rect) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f)", r.X0, r.Y0, r.X1, r.Y1)
}
