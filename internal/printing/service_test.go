package printing

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kioskprint/internal/config"
	"kioskprint/internal/layout"
	"kioskprint/internal/model"
	"kioskprint/internal/spool"
	"kioskprint/internal/store"
	"kioskprint/internal/tracker"
)

type fakePrinters struct {
	name string
	err  error
}

func (f fakePrinters) ResolvePrinter(ctx context.Context) (string, error) {
	return f.name, f.err
}

type fakePaper struct{}

func (fakePaper) Resolve(ctx context.Context, printer string, target model.PaperSize) (model.PaperSize, error) {
	return layout.ResolvePaper(target, []model.PaperSize{{Name: "4x6", Width: 4, Height: 6}}, layout.DefaultTolerance, nil)
}

type fakeTracker struct {
	mu      sync.Mutex
	reqs    []tracker.Request
	onPrint func(req tracker.Request)
}

func (f *fakeTracker) Print(ctx context.Context, req tracker.Request) model.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.onPrint != nil {
		f.onPrint(req)
	}
	return model.Result{
		Outcome: model.OutcomeSuccess,
		State:   tracker.StateCompleted,
		Elapsed: 14 * time.Second,
		Session: model.PrintJobSession{
			ID: req.SessionID, PrinterName: "DS620", TrackedJobID: 12,
			TrackedJobName: req.Document.JobName, TotalPagesNeeded: req.Pages,
		},
	}
}

type fakeSupplies struct{}

func (fakeSupplies) Check(ctx context.Context, printer string) model.RollCapacityInfo {
	pct := 60
	return model.RollCapacityInfo{IsAvailable: true, Source: "queue", Status: model.SupplyOK, RemainingPercentage: &pct}
}

func writeImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// writeTwoTone writes a w x h image whose top half is red and bottom half blue.
func writeTwoTone(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.RGBA{R: 220, A: 255}
		if y >= h/2 {
			c = color.RGBA{B: 220, A: 255}
		}
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "portrait.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func newService(t *testing.T, printers PrinterResolver) (*Service, *fakeTracker, *store.Store, spool.Spool) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sp := spool.Spool{Dir: filepath.Join(t.TempDir(), "spool")}
	tr := &fakeTracker{}
	svc := New(Deps{
		Printers: printers,
		Paper:    fakePaper{},
		Tracker:  tr,
		Supplies: fakeSupplies{},
		Journal:  st,
		Spool:    sp,
		Settings: Settings{Paper: model.PaperSize{Name: "4x6", Width: 6, Height: 4}, DPI: 20},
	})
	return svc, tr, st, sp
}

func journal(t *testing.T, st *store.Store) []store.SessionRecord {
	t.Helper()
	var recs []store.SessionRecord
	err := st.WithTx(context.Background(), true, func(tx *sql.Tx) error {
		var err error
		recs, err = st.ListSessions(context.Background(), tx, "", 10)
		return err
	})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	return recs
}

func TestPrintCollapsesCopiesIntoOneDocument(t *testing.T) {
	svc, tr, st, sp := newService(t, fakePrinters{name: "DS620"})
	res := svc.Print(context.Background(), Job{ImagePath: writeImage(t, 60, 40), Copies: 3, Wait: true})
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if len(tr.reqs) != 1 {
		t.Fatalf("submissions = %d", len(tr.reqs))
	}
	req := tr.reqs[0]
	doc := req.Document
	if len(doc.Pages) != 1 || doc.Copies != 3 || req.Pages != 3 || !req.Wait {
		t.Fatalf("request pages=%d copies=%d total=%d", len(doc.Pages), doc.Copies, req.Pages)
	}
	if doc.Format != "image/png" || doc.Media.Name != "4x6" || doc.JobName != "kiosk-"+req.SessionID {
		t.Fatalf("document = %+v", doc)
	}
	// landscape photo on portrait-fed 4x6 is rotated in the raster.
	if doc.Orientation != 3 {
		t.Fatalf("orientation = %d, want 3", doc.Orientation)
	}
	img, _, err := layout.DecodeImage(bytes.NewReader(doc.Pages[0]))
	if err != nil || img.Bounds().Dx() != 80 || img.Bounds().Dy() != 120 {
		t.Fatalf("page raster = %v, %v", img.Bounds(), err)
	}

	recs := journal(t, st)
	if len(recs) != 1 || recs[0].ID != req.SessionID || recs[0].JobID != 12 || recs[0].Copies != 3 || recs[0].Paper != "4x6" {
		t.Fatalf("journal = %+v", recs)
	}
	if pages, _ := sp.Pages(req.SessionID); len(pages) != 0 {
		t.Fatalf("spool not cleaned: %v", pages)
	}
}

func TestPrintPortraitPhotoOnLandscapePaperIsRotated(t *testing.T) {
	svc, tr, _, _ := newService(t, fakePrinters{name: "DS620"})
	// 6x4 requested, driver reports 4x6 portrait.
	res := svc.Print(context.Background(), Job{ImagePath: writeTwoTone(t, 40, 60), Copies: 1})
	if !res.Succeeded() || len(tr.reqs) != 1 {
		t.Fatalf("result = %+v", res)
	}
	doc := tr.reqs[0].Document
	if doc.Orientation != 3 {
		t.Fatalf("orientation = %d, want 3", doc.Orientation)
	}
	img, _, err := layout.DecodeImage(bytes.NewReader(doc.Pages[0]))
	if err != nil || img.Bounds().Dx() != 80 || img.Bounds().Dy() != 120 {
		t.Fatalf("page raster = %v, %v", img.Bounds(), err)
	}
	// Turned clockwise: the top of the photo ends up on the right of the raster.
	red := func(x, y int) bool {
		r, _, b, _ := img.At(x, y).RGBA()
		return r > b
	}
	if !red(70, 100) || !red(70, 20) {
		t.Fatalf("right side should be the top of the photo")
	}
	if red(10, 20) || red(10, 100) {
		t.Fatalf("left side should be the bottom of the photo")
	}
}

func TestOrientationFollowsRenderedRaster(t *testing.T) {
	cases := []struct {
		name string
		plan model.PageLayoutPlan
		want int
	}{
		{"landscape raster", model.PageLayoutPlan{IsLandscape: true, Drawable: model.Rect{Width: 1800, Height: 1200}}, 4},
		{"landscape on portrait feed", model.PageLayoutPlan{IsLandscape: true, OrientationMismatch: true, Drawable: model.Rect{Width: 1200, Height: 1800}}, 3},
		{"portrait", model.PageLayoutPlan{Drawable: model.Rect{Width: 1200, Height: 1800}}, 3},
		{"portrait request on landscape raster", model.PageLayoutPlan{Drawable: model.Rect{Width: 1800, Height: 1200}}, 3},
	}
	for _, tc := range cases {
		if got := orientation(tc.plan); got != tc.want {
			t.Fatalf("%s: orientation = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestPrintSpoolsPagesUntilRecorded(t *testing.T) {
	svc, tr, _, sp := newService(t, fakePrinters{name: "DS620"})
	var during []string
	tr.onPrint = func(req tracker.Request) {
		during, _ = sp.Pages(req.SessionID)
	}
	res := svc.Print(context.Background(), Job{ImagePath: writeImage(t, 60, 40), Copies: 1})
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if len(during) != 1 {
		t.Fatalf("spooled pages during submission = %v", during)
	}
	if after, _ := sp.Pages(res.Session.ID); len(after) != 0 {
		t.Fatalf("spool not cleaned: %v", after)
	}
}

func TestPrintStripUsesOnePagePerCopy(t *testing.T) {
	svc, tr, _, _ := newService(t, fakePrinters{name: "DS620"})
	res := svc.Print(context.Background(), Job{ImagePath: writeImage(t, 20, 60), Copies: 2, ImagesPerPage: 2})
	if !res.Succeeded() || len(tr.reqs) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if tr.reqs[0].Pages != 2 {
		t.Fatalf("physical pages = %d, want copies", tr.reqs[0].Pages)
	}
}

func TestPrintPreconditionFailures(t *testing.T) {
	svc, tr, st, _ := newService(t, fakePrinters{err: errors.New("no printer")})
	res := svc.Print(context.Background(), Job{ImagePath: writeImage(t, 10, 10)})
	if !tracker.IsPrecondition(res.Err) || res.State != tracker.StatePreconditionFailed {
		t.Fatalf("result = %+v", res)
	}

	svc2, tr2, _, _ := newService(t, fakePrinters{name: "DS620"})
	bad := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res = svc2.Print(context.Background(), Job{ImagePath: bad})
	if !tracker.IsPrecondition(res.Err) {
		t.Fatalf("result = %+v", res)
	}
	if len(tr.reqs)+len(tr2.reqs) != 0 {
		t.Fatalf("precondition failure must not submit")
	}
	if recs := journal(t, st); len(recs) != 1 || recs[0].Outcome != "failure" {
		t.Fatalf("journal = %+v", recs)
	}
}

func TestPrintAsyncDeliversOneResult(t *testing.T) {
	svc, _, _, _ := newService(t, fakePrinters{name: "DS620"})
	ch := svc.PrintAsync(context.Background(), Job{ImagePath: writeImage(t, 40, 60), Wait: true})
	select {
	case res := <-ch:
		if !res.Succeeded() {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
}

func TestCheckSuppliesJournalsReading(t *testing.T) {
	svc, _, st, _ := newService(t, fakePrinters{name: "DS620"})
	info, err := svc.CheckSupplies(context.Background(), "")
	if err != nil || info.Status != model.SupplyOK {
		t.Fatalf("CheckSupplies = %+v, %v", info, err)
	}
	err = st.WithTx(context.Background(), true, func(tx *sql.Tx) error {
		got, ok, err := st.LatestSupplySnapshot(context.Background(), tx, "DS620")
		if err != nil || !ok || got.RemainingPercentage == nil || *got.RemainingPercentage != 60 {
			t.Fatalf("snapshot = %+v ok=%v err=%v", got, ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestWireBuildsRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "kioskprint.db")
	cfg.SpoolDir = filepath.Join(dir, "spool")
	cfg.Printer = "DS620"
	rt, err := Wire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer rt.Close()
	if rt.Journal == nil || rt.Service == nil || rt.Registry.Selected() != "DS620" {
		t.Fatalf("runtime = %+v", rt)
	}
	if _, err := os.Stat(cfg.SpoolDir); err != nil {
		t.Fatalf("spool dir: %v", err)
	}
	timing := TimingFromConfig(cfg)
	if timing.OfflineDebounce != 5 || timing.AbsoluteMaximumWait != 300*time.Second {
		t.Fatalf("timing = %+v", timing)
	}
}
