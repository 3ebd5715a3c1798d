// Package batch drives the operator through a folder of files: open,
// mark, commit, advance, with progress that survives restarts.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/wudi/pdfmask/backup"
	"github.com/wudi/pdfmask/masks"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/persistence"
	"github.com/wudi/pdfmask/redaction"
	"github.com/wudi/pdfmask/session"
)

var (
	ErrNoFileActive   = errors.New("no file is open")
	ErrNoMasks        = errors.New("no masks to apply")
	ErrNoPDFs         = errors.New("folder contains no PDF files")
	ErrIndexRange     = errors.New("file index out of range")
	ErrAborted        = errors.New("aborted by operator")
	ErrNothingToRetry = errors.New("no failed save to retry")
)

type State int

const (
	StateIdle State = iota
	StateFolderLoaded
	StateFileActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFolderLoaded:
		return "folder-loaded"
	case StateFileActive:
		return "file-active"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type QuestionKind int

const (
	// QuestionResume offers to continue saved progress of a folder.
	QuestionResume QuestionKind = iota
	// QuestionNextFile asks before opening the next file of the batch.
	QuestionNextFile
	// QuestionSkipBackup asks whether to commit although the backup failed.
	QuestionSkipBackup
)

type Question struct {
	Kind    QuestionKind
	Message string
}

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, q Question) bool
}

type Options struct {
	Prompter Prompter
	Archive  *persistence.MaskArchive
	Progress *persistence.ProgressStore
	Engine   *redaction.Engine
	// Backup is skipped when nil.
	Backup  *backup.Backuper
	Session session.Options
	Logger  observability.Logger
}

// Controller owns the active session and the pending masks. It is not
// safe for concurrent use.
type Controller struct {
	opts  Options
	log   observability.Logger
	state State

	folder    string
	files     []string
	completed []string
	index     int

	sess  *session.Session
	store *masks.Store
	// unsaved holds the entries of a commit whose save failed.
	unsaved []masks.Entry
}

func New(opts Options) *Controller {
	if opts.Engine == nil {
		opts.Engine = redaction.NewEngine(redaction.Options{Logger: opts.Logger})
	}
	return &Controller{
		opts:  opts,
		log:   observability.OrNop(opts.Logger),
		index: -1,
		store: masks.NewStore(),
	}
}

func (c *Controller) State() State              { return c.state }
func (c *Controller) Session() *session.Session { return c.sess }
func (c *Controller) Store() *masks.Store       { return c.store }
func (c *Controller) Folder() string            { return c.folder }
func (c *Controller) Index() int                { return c.index }
func (c *Controller) Files() []string           { return slices.Clone(c.files) }
func (c *Controller) CompletedFiles() []string  { return slices.Clone(c.completed) }

func (c *Controller) IsCompleted(path string) bool {
	return slices.Contains(c.completed, persistence.NormalizeName(path))
}

// OpenFolder loads the PDF files of folder and opens the first one, or the
// saved position when the operator resumes.
func (c *Controller) OpenFolder(ctx context.Context, folder string) error {
	files, err := listPDFs(folder)
	if err != nil {
		return err
	}
	c.closeSession()
	c.folder = folder
	c.files = files
	c.completed = nil
	c.index = -1
	c.unsaved = nil
	c.state = StateFolderLoaded

	start := 0
	if p := c.loadProgress(); p != nil && p.SameFolder(folder) {
		msg := fmt.Sprintf("Resume previous work in %s? %d of %d files done, last updated %s.",
			filepath.Base(folder), p.CompletedCount, p.TotalFiles, p.LastUpdated)
		if c.confirm(ctx, QuestionResume, msg) {
			names := c.names()
			for _, name := range p.CompletedFiles {
				name = persistence.NormalizeName(name)
				if slices.Contains(names, name) && !slices.Contains(c.completed, name) {
					c.completed = append(c.completed, name)
				}
			}
			if p.CurrentIndex >= 0 && p.CurrentIndex < len(files) {
				start = p.CurrentIndex
			}
			c.log.Info("progress resumed",
				observability.Int("completed", len(c.completed)),
				observability.Int("index", start))
		}
	}
	c.log.Info("folder opened", observability.String("folder", folder), observability.Int("files", len(files)))
	return c.open(ctx, start)
}

// OpenFile opens a single file outside any folder; no progress is kept.
func (c *Controller) OpenFile(ctx context.Context, path string) error {
	c.closeSession()
	c.folder = ""
	c.files = []string{path}
	c.completed = nil
	c.index = -1
	c.unsaved = nil
	c.state = StateFolderLoaded
	return c.open(ctx, 0)
}

// Jump opens file i of the batch.
func (c *Controller) Jump(ctx context.Context, i int) error {
	if c.state == StateIdle {
		return ErrNoFileActive
	}
	if i < 0 || i >= len(c.files) {
		return fmt.Errorf("%w: %d of %d", ErrIndexRange, i+1, len(c.files))
	}
	return c.open(ctx, i)
}

// Reload re-reads the active file, dropping edits not yet saved.
func (c *Controller) Reload(ctx context.Context) error {
	if c.sess == nil {
		return ErrNoFileActive
	}
	c.unsaved = nil
	return c.sess.Reload(ctx)
}

func (c *Controller) Close() error {
	c.closeSession()
	c.state = StateIdle
	return nil
}

// CommitResult describes a successful commit.
type CommitResult struct {
	Report        *redaction.Report
	Backup        string
	BackupExisted bool
	Archive       string
	// Next is the index of the file opened afterwards, -1 if none.
	Next int
	// Done is set when the last file of the batch was committed.
	Done bool
}

// Commit backs up the active file, archives the pending masks, applies
// them, and moves on.
func (c *Controller) Commit(ctx context.Context) (*CommitResult, error) {
	if c.state != StateFileActive || c.sess == nil {
		return nil, ErrNoFileActive
	}
	if c.store.Len() == 0 {
		return nil, ErrNoMasks
	}
	path := c.sess.Path()
	entries := c.store.All()
	if err := redaction.Validate(c.sess.PageCount(), entries); err != nil {
		return nil, err
	}
	res := &CommitResult{Next: -1}
	log := c.sess.Logger()

	if c.opts.Backup != nil {
		dest, existed, err := c.opts.Backup.Backup(path)
		if err != nil {
			log.Warn("backup failed", observability.Error(err))
			if !c.confirm(ctx, QuestionSkipBackup, fmt.Sprintf("Backup failed: %v. Continue without a backup?", err)) {
				return nil, fmt.Errorf("%w: %w", ErrAborted, err)
			}
		} else {
			res.Backup, res.BackupExisted = dest, existed
			log.Info("backup ready", observability.String("path", dest), observability.Bool("existed", existed))
		}
	}

	if c.opts.Archive != nil {
		file, err := c.opts.Archive.Save(path, entries)
		if err != nil {
			log.Warn("mask archive not written", observability.Error(err))
		} else {
			res.Archive = file
		}
	}

	report, err := c.opts.Engine.Apply(ctx, c.sess.Document(), entries)
	res.Report = report
	if err != nil {
		var inUse *redaction.FileInUseError
		var saveErr *redaction.SaveError
		if errors.As(err, &inUse) || errors.As(err, &saveErr) {
			c.unsaved = entries
		}
		log.Error("commit failed", observability.Error(err))
		return nil, err
	}
	return c.finish(ctx, res, entries)
}

// RetrySave saves the active document again after Commit failed to write
// it, then finishes the commit.
func (c *Controller) RetrySave(ctx context.Context) (*CommitResult, error) {
	if c.sess == nil {
		return nil, ErrNoFileActive
	}
	if c.unsaved == nil {
		return nil, ErrNothingToRetry
	}
	if err := c.opts.Engine.RetrySave(ctx, c.sess.Document()); err != nil {
		return nil, err
	}
	entries := c.unsaved
	return c.finish(ctx, &CommitResult{Next: -1}, entries)
}

func (c *Controller) finish(ctx context.Context, res *CommitResult, entries []masks.Entry) (*CommitResult, error) {
	log := c.sess.Logger()
	for i, e := range entries {
		r := e.Rect
		log.Info("mask applied",
			observability.Int("mask", i+1),
			observability.Int("page", e.PageIndex+1),
			observability.String("rect", fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f)", r.X0, r.Y0, r.X1, r.Y1)),
			observability.String("note", e.Note))
	}
	c.unsaved = nil
	c.store.Clear()
	if name := persistence.NormalizeName(c.files[c.index]); !slices.Contains(c.completed, name) {
		c.completed = append(c.completed, name)
	}
	next, err := c.advance(ctx)
	res.Next = next
	res.Done = c.state == StateCompleted
	return res, err
}

// Skip leaves the active file without committing. Pending masks are
// discarded.
func (c *Controller) Skip(ctx context.Context) (int, error) {
	if c.state != StateFileActive {
		return -1, ErrNoFileActive
	}
	c.store.Clear()
	c.unsaved = nil
	c.log.Info("file skipped", observability.String("file", filepath.Base(c.files[c.index])))
	return c.advance(ctx)
}

// advance persists progress pointing at the next file and opens it when
// the operator agrees. Past the last file the progress is removed and the
// batch is completed.
func (c *Controller) advance(ctx context.Context) (int, error) {
	next := c.index + 1
	if next >= len(c.files) {
		if c.folder != "" && c.opts.Progress != nil {
			if err := c.opts.Progress.Clear(); err != nil {
				c.log.Warn("progress not cleared", observability.Error(err))
			}
		}
		c.state = StateCompleted
		c.log.Info("batch completed", observability.Int("completed", len(c.completed)), observability.Int("files", len(c.files)))
		return -1, nil
	}
	if c.folder != "" && c.opts.Progress != nil {
		if err := c.opts.Progress.Save(c.folder, c.names(), c.completed, next); err != nil {
			c.log.Warn("progress not saved", observability.Error(err))
		}
	}
	if !c.confirm(ctx, QuestionNextFile, fmt.Sprintf("Open the next file %s?", filepath.Base(c.files[next]))) {
		return -1, nil
	}
	if err := c.open(ctx, next); err != nil {
		return -1, err
	}
	return next, nil
}

// open replaces the session with file i and loads today's archived masks
// for it.
func (c *Controller) open(ctx context.Context, i int) error {
	sess, err := session.Open(ctx, c.files[i], c.opts.Session)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(c.files[i]), err)
	}
	c.closeSession()
	c.sess = sess
	c.index = i
	c.unsaved = nil
	c.state = StateFileActive
	c.store.Clear()
	if c.opts.Archive != nil {
		entries, err := c.opts.Archive.Load(c.files[i])
		if err != nil {
			sess.Logger().Warn("archived masks not loaded", observability.Error(err))
		} else if len(entries) > 0 {
			c.store.Replace(entries)
			sess.Logger().Info("archived masks loaded", observability.Int("masks", len(entries)))
		}
	}
	return nil
}

func (c *Controller) closeSession() {
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
}

func (c *Controller) confirm(ctx context.Context, kind QuestionKind, msg string) bool {
	if c.opts.Prompter == nil {
		return true
	}
	return c.opts.Prompter.Confirm(ctx, Question{Kind: kind, Message: msg})
}

func (c *Controller) loadProgress() *persistence.Progress {
	if c.opts.Progress == nil {
		return nil
	}
	p, err := c.opts.Progress.Load()
	if err != nil {
		c.log.Warn("saved progress unreadable", observability.Error(err))
		return nil
	}
	return p
}

func (c *Controller) names() []string {
	out := make([]string, len(c.files))
	for i, f := range c.files {
		out[i] = persistence.NormalizeName(f)
	}
	return out
}

// listPDFs returns the *.pdf files of dir, any case, sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPDFs, dir)
	}
	slices.Sort(files)
	return files, nil
}
