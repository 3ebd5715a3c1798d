package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/pdfmask/backup"
	"github.com/wudi/pdfmask/batch"
	"github.com/wudi/pdfmask/config"
	"github.com/wudi/pdfmask/license"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/persistence"
	"github.com/wudi/pdfmask/redaction"
	"github.com/wudi/pdfmask/render"
	"github.com/wudi/pdfmask/session"
)

type app struct {
	cfg      *config.Config
	log      observability.Logger
	in       *bufio.Reader
	out      io.Writer
	ctrl     *batch.Controller
	license  *license.Manager
	modifier session.Modifier
}

func newApp(cfg *config.Config, log observability.Logger, in *bufio.Reader, out io.Writer) (*app, error) {
	mode, err := cfg.SaveMode()
	if err != nil {
		return nil, err
	}
	lineArt, err := cfg.LineArt()
	if err != nil {
		return nil, err
	}
	modifier, err := session.ParseModifier(cfg.Gesture.Modifier)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		log:      log,
		in:       in,
		out:      out,
		modifier: modifier,
		license: &license.Manager{
			Path:     cfg.LicensePath(),
			Verifier: license.DefaultVerifier(),
			Logger:   log,
		},
	}
	var bk *backup.Backuper
	if cfg.Backup.Enabled {
		bk = &backup.Backuper{Dir: cfg.BackupDir()}
	}
	a.ctrl = batch.New(batch.Options{
		Prompter: a,
		Archive:  &persistence.MaskArchive{Dir: cfg.MasksDir()},
		Progress: &persistence.ProgressStore{Path: cfg.ProgressPath()},
		Engine:   redaction.NewEngine(redaction.Options{SaveMode: mode, Logger: log}),
		Backup:   bk,
		Session: session.Options{
			Logger:    log,
			Password:  a.askPassword,
			LineArt:   lineArt,
			Renderer:  render.New(render.Options{Logger: log}),
			BaseScale: cfg.Render.BaseScale,
			Zoom:      session.ZoomBounds{Min: cfg.Zoom.Min, Max: cfg.Zoom.Max, Step: cfg.Zoom.Step},
		},
		Logger: log,
	})
	return a, nil
}

func (a *app) close() { a.ctrl.Close() }

// Confirm implements batch.Prompter.
func (a *app) Confirm(_ context.Context, q batch.Question) bool {
	return yes(a.in, a.out, q.Message)
}

func (a *app) askPassword(_ context.Context, path string, attempt int) (string, bool) {
	prompt := fmt.Sprintf("Password for %s: ", filepath.Base(path))
	if attempt > 1 {
		prompt = "Wrong password. " + prompt
	}
	pw, err := readSecret(a.in, a.out, prompt)
	if err != nil || pw == "" {
		return "", false
	}
	return pw, true
}

// ensureLicense asks for a serial until one activates or the operator
// enters nothing.
func (a *app) ensureLicense(ctx context.Context) error {
	if a.license.IsLicensed() {
		a.log.Info("license verified")
		return nil
	}
	a.log.Warn("no license found")
	for {
		serial, err := readLine(a.in, a.out, "Serial number (XXXX-XXXX-XXXX-XXXX, empty to quit): ")
		if err != nil || serial == "" {
			a.log.Warn("license activation cancelled")
			return errors.New("a license is required")
		}
		if err := a.license.Activate(ctx, serial); err != nil {
			fmt.Fprintln(a.out, describe(err))
			continue
		}
		fmt.Fprintln(a.out, "License activated.")
		return nil
	}
}

func (a *app) openTarget(ctx context.Context, target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return a.ctrl.OpenFolder(ctx, target)
	}
	return a.ctrl.OpenFile(ctx, target)
}

func (a *app) report(err error) { fmt.Fprintln(a.out, describe(err)) }

// status is the prompt prefix: file, page, zoom and pending masks.
func (a *app) status() string {
	s := a.ctrl.Session()
	if s == nil || a.ctrl.State() == batch.StateIdle {
		return "(no file)"
	}
	var b strings.Builder
	if files := a.ctrl.Files(); len(files) > 1 {
		fmt.Fprintf(&b, "[%d/%d] ", a.ctrl.Index()+1, len(files))
	}
	fmt.Fprintf(&b, "%s p%d/%d %d%% masks:%d",
		filepath.Base(s.Path()), s.Page()+1, s.PageCount(),
		int(s.Viewer().Zoom()*100+0.5), a.ctrl.Store().Len())
	if a.ctrl.State() == batch.StateCompleted {
		b.WriteString(" (batch done)")
	}
	return b.String()
}

// describe turns an error into a message for the operator.
func describe(err error) string {
	var inUse *redaction.FileInUseError
	var commit *redaction.CommitError
	switch {
	case errors.As(err, &inUse):
		return fmt.Sprintf("Cannot save %s: it is open in another program. Close it there, then type retry.", filepath.Base(inUse.Path))
	case errors.As(err, &commit):
		return "Error: " + commit.Error()
	case errors.Is(err, batch.ErrNoFileActive):
		return "Open a file first (open <pdf> or folder <dir>)."
	case errors.Is(err, session.ErrNoRaster):
		return "Render the page first (render <out.png>)."
	}
	var saveErr *redaction.SaveError
	if errors.As(err, &saveErr) {
		return fmt.Sprintf("Save failed: %v. Type retry to try again.", saveErr.Err)
	}
	return "Error: " + err.Error()
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, errors.New("missing number")
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[i])
	}
	return n, nil
}
