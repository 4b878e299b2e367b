// Package printing is the entry point the kiosk uses: lay out an image, hand it
// to the spooler, wait for the outcome and record it.
package printing

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"kioskprint/internal/cupsclient"
	"kioskprint/internal/layout"
	"kioskprint/internal/logging"
	"kioskprint/internal/model"
	"kioskprint/internal/spool"
	"kioskprint/internal/store"
	"kioskprint/internal/tracker"
)

type PrinterResolver interface {
	ResolvePrinter(ctx context.Context) (string, error)
}

type PaperResolver interface {
	Resolve(ctx context.Context, printer string, target model.PaperSize) (model.PaperSize, error)
}

type Submitter interface {
	Print(ctx context.Context, req tracker.Request) model.Result
}

type SupplyChecker interface {
	Check(ctx context.Context, printer string) model.RollCapacityInfo
}

// Settings are the layout defaults applied to every job.
type Settings struct {
	Paper          model.PaperSize
	DPI            int
	StripTopOffset float64
}

type Deps struct {
	Printers PrinterResolver
	Paper    PaperResolver
	Tracker  Submitter
	Supplies SupplyChecker
	Journal  *store.Store
	Spool    spool.Spool
	Settings Settings
}

type Service struct {
	deps  Deps
	newID func() string
	now   func() time.Time
}

func New(deps Deps) *Service {
	return &Service{deps: deps, newID: uuid.NewString, now: time.Now}
}

// Job is one print request from the kiosk. A zero Paper uses the configured size.
type Job struct {
	ImagePath     string
	Copies        int
	ImagesPerPage int
	Paper         model.PaperSize
	Wait          bool
}

// PrintAsync runs Print on its own goroutine. The channel receives exactly one
// result and is then closed.
func (s *Service) PrintAsync(ctx context.Context, job Job) <-chan model.Result {
	out := make(chan model.Result, 1)
	go func() {
		defer close(out)
		out <- s.Print(ctx, job)
	}()
	return out
}

// Print lays out, submits and tracks job. Every call ends in one journal row and
// one page log line.
func (s *Service) Print(ctx context.Context, job Job) model.Result {
	start := s.now()
	id := s.newID()
	jobName := "kiosk-" + id
	copies := max(job.Copies, 1)
	perPage := max(job.ImagesPerPage, 1)
	target := job.Paper
	if target.Width <= 0 || target.Height <= 0 {
		target = s.deps.Settings.Paper
	}

	res, paper := s.print(ctx, id, jobName, job, copies, perPage, target)
	if res.Session.ID == "" {
		res.Session.ID = id
		res.Session.TrackedJobName = jobName
	}
	if res.Elapsed == 0 {
		res.Elapsed = s.now().Sub(start)
	}
	s.record(ctx, res, paper, copies, perPage)
	if s.deps.Spool.Dir != "" {
		if err := s.deps.Spool.Remove(id); err != nil {
			log.Printf("[print] %s: spool cleanup failed: %v", id, err)
		}
	}
	return res
}

func (s *Service) print(ctx context.Context, id, jobName string, job Job, copies, perPage int, target model.PaperSize) (model.Result, string) {
	printer, err := s.deps.Printers.ResolvePrinter(ctx)
	if err != nil {
		return precondition("resolve printer", "", err), target.Name
	}
	img, err := loadImage(job.ImagePath)
	if err != nil {
		return precondition("load image", printer, err), target.Name
	}
	paper, err := s.deps.Paper.Resolve(ctx, printer, target)
	if err != nil {
		return precondition("resolve paper", printer, err), target.Name
	}
	b := img.Bounds()
	plan, err := layout.Plan(layout.Request{
		ImageWidth:     b.Dx(),
		ImageHeight:    b.Dy(),
		Copies:         copies,
		ImagesPerPage:  perPage,
		Paper:          paper,
		Landscape:      target.IsLandscape(),
		DPI:            s.deps.Settings.DPI,
		StripTopOffset: s.deps.Settings.StripTopOffset,
	})
	if err != nil {
		return precondition("layout", printer, err), paper.Name
	}
	pages, docCopies, err := layout.RenderPNG(img, plan)
	if err != nil {
		return precondition("render", printer, err), paper.Name
	}
	// Spooled copies are evidence only; the document below carries the pages.
	var total int64
	for i, p := range pages {
		if s.deps.Spool.Dir == "" {
			total += int64(len(p))
			continue
		}
		_, n, err := s.deps.Spool.Save(id, i, ".png", bytes.NewReader(p))
		if err != nil {
			log.Printf("[print] %s: spool write failed: %v", id, err)
			break
		}
		total += n
	}
	log.Printf("[print] %s: %s on %s, %d page(s) x%d, %s rendered", id, plan.Paper.Name, printer,
		len(pages), docCopies, humanize.Bytes(uint64(total)))

	doc := cupsclient.Document{
		JobName:     jobName,
		Format:      "image/png",
		Pages:       pages,
		Copies:      docCopies,
		Media:       paper,
		Orientation: orientation(plan),
	}
	return s.deps.Tracker.Print(ctx, tracker.Request{
		SessionID: id,
		Pages:     plan.TotalPages,
		Document:  doc,
		Wait:      job.Wait,
	}), paper.Name
}

// orientation is the IPP orientation-requested value. Pages are rendered in the
// orientation the driver reports for the paper, so landscape is only requested
// when the rendered raster itself is landscape.
func orientation(plan model.PageLayoutPlan) int {
	if plan.IsLandscape && plan.Drawable.Width > plan.Drawable.Height {
		return 4
	}
	return 3
}

func precondition(op, printer string, err error) model.Result {
	err = tracker.NewError(tracker.ErrorPrecondition, op, printer, err)
	log.Printf("[print] %v", err)
	return model.Result{
		Outcome: model.OutcomeFailure,
		State:   tracker.StatePreconditionFailed,
		Reason:  err.Error(),
		Err:     err,
		Session: model.PrintJobSession{PrinterName: printer},
	}
}

func loadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, errors.New("no image")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := layout.DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func (s *Service) record(ctx context.Context, res model.Result, paper string, copies, perPage int) {
	finished := s.now()
	logging.Page(logging.PageLogLine(logging.PageLogEntry{
		SessionID: res.Session.ID,
		Printer:   res.Session.PrinterName,
		JobID:     res.Session.TrackedJobID,
		Pages:     res.Session.TotalPagesNeeded,
		Copies:    copies,
		Outcome:   string(res.Outcome),
		Elapsed:   res.Elapsed,
		Time:      finished,
	}))
	if s.deps.Journal == nil {
		return
	}
	rec := store.SessionFromResult(res, paper, copies, perPage, finished)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.deps.Journal.WithTx(wctx, false, func(tx *sql.Tx) error {
		return s.deps.Journal.InsertSession(wctx, tx, rec)
	})
	if err != nil {
		log.Printf("[print] %s: journal write failed: %v", rec.ID, err)
	}
}

// CheckSupplies probes printer, or the resolved printer when empty, and journals
// the reading.
func (s *Service) CheckSupplies(ctx context.Context, printer string) (model.RollCapacityInfo, error) {
	if printer == "" {
		var err error
		printer, err = s.deps.Printers.ResolvePrinter(ctx)
		if err != nil {
			return model.RollCapacityInfo{}, tracker.NewError(tracker.ErrorPrecondition, "resolve printer", "", err)
		}
	}
	info := s.deps.Supplies.Check(ctx, printer)
	if s.deps.Journal != nil {
		err := s.deps.Journal.WithTx(ctx, false, func(tx *sql.Tx) error {
			return s.deps.Journal.InsertSupplySnapshot(ctx, tx, printer, info)
		})
		if err != nil {
			log.Printf("[supply] %s: journal write failed: %v", printer, err)
		}
	}
	return info, nil
}
