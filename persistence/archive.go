package persistence

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/masks"
)

type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

type MaskRecord struct {
	PageIndex int    `json:"page_index"`
	Rect      Rect   `json:"rect"`
	Note      string `json:"note"`
}

// FileRecord is the last saved mask set of one file on one day.
type FileRecord struct {
	PDFFile   string       `json:"pdf_file"`
	SavedAt   string       `json:"saved_at"`
	MaskCount int          `json:"mask_count"`
	Masks     []MaskRecord `json:"masks"`
}

// DayArchive is the content of one mask_data_YYYYMMDD.json file.
type DayArchive struct {
	Date  string       `json:"date"`
	Files []FileRecord `json:"files"`
}

// Find returns the record for the file named name, compared in NFC form.
func (d *DayArchive) Find(name string) (*FileRecord, bool) {
	name = NormalizeName(name)
	for i := range d.Files {
		if NormalizeName(d.Files[i].PDFFile) == name {
			return &d.Files[i], true
		}
	}
	return nil, false
}

// MaskArchive stores committed masks in one file per calendar day, one
// record per file name; a later save of the same name replaces the
// earlier record.
type MaskArchive struct {
	Dir string
	Now func() time.Time
}

// DayPath is the archive file for the current day.
func (a *MaskArchive) DayPath() string {
	return filepath.Join(a.Dir, "mask_data_"+now(a.Now).Format("20060102")+".json")
}

// ReadDay loads today's archive; a missing file gives an empty archive.
func (a *MaskArchive) ReadDay() (*DayArchive, error) {
	day := &DayArchive{Date: now(a.Now).Format("2006-01-02")}
	if _, err := readJSON(a.DayPath(), day); err != nil {
		return nil, err
	}
	return day, nil
}

// Save records entries for pdfPath and returns the archive file written.
func (a *MaskArchive) Save(pdfPath string, entries []masks.Entry) (string, error) {
	day, err := a.ReadDay()
	if err != nil {
		return "", err
	}
	rec := FileRecord{
		PDFFile:   NormalizeName(pdfPath),
		SavedAt:   now(a.Now).Format(isoMicro),
		MaskCount: len(entries),
		Masks:     make([]MaskRecord, 0, len(entries)),
	}
	for _, e := range entries {
		r := e.Rect.Normalize()
		rec.Masks = append(rec.Masks, MaskRecord{
			PageIndex: e.PageIndex,
			Rect:      Rect{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1},
			Note:      e.Note,
		})
	}
	if old, ok := day.Find(pdfPath); ok {
		*old = rec
	} else {
		day.Files = append(day.Files, rec)
	}
	path := a.DayPath()
	if err := writeJSON(path, day); err != nil {
		return "", fmt.Errorf("save masks: %w", err)
	}
	return path, nil
}

// Load returns today's masks for pdfPath, or nil when there are none.
func (a *MaskArchive) Load(pdfPath string) ([]masks.Entry, error) {
	day, err := a.ReadDay()
	if err != nil {
		return nil, fmt.Errorf("load masks: %w", err)
	}
	rec, ok := day.Find(pdfPath)
	if !ok {
		return nil, nil
	}
	out := make([]masks.Entry, 0, len(rec.Masks))
	for _, m := range rec.Masks {
		out = append(out, masks.Entry{
			PageIndex: m.PageIndex,
			Rect:      coords.Rect{X0: m.Rect.X0, Y0: m.Rect.Y0, X1: m.Rect.X1, Y1: m.Rect.Y1}.Normalize(),
			Note:      m.Note,
		})
	}
	return out, nil
}

// Delete drops today's record for pdfPath and reports whether one existed.
func (a *MaskArchive) Delete(pdfPath string) (bool, error) {
	day, err := a.ReadDay()
	if err != nil {
		return false, fmt.Errorf("delete masks: %w", err)
	}
	name := NormalizeName(pdfPath)
	kept := day.Files[:0]
	for _, f := range day.Files {
		if NormalizeName(f.PDFFile) != name {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(day.Files) {
		return false, nil
	}
	day.Files = kept
	if err := writeJSON(a.DayPath(), day); err != nil {
		return false, fmt.Errorf("delete masks: %w", err)
	}
	return true, nil
}
