package cupsclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"kioskprint/internal/model"
)

var ErrPrinterNotFound = errors.New("printer not found")

// QueueState is the spooler's view of one queue.
type QueueState struct {
	Name            string
	State           int
	Reasons         []string
	Accepting       bool
	Message         string
	DeviceURI       string
	MakeModel       string
	Location        string
	ColorSupported  bool
	CopiesMax       int
	DuplexSupported bool
}

// HasReason reports whether any printer-state-reasons keyword starts with prefix,
// ignoring the -report/-warning/-error severity suffix.
func (q QueueState) HasReason(prefix string) bool {
	for _, r := range q.Reasons {
		if r == prefix || strings.HasPrefix(r, prefix+"-") {
			return true
		}
	}
	return false
}

// Device converts the queue state into a registry snapshot.
func (q QueueState) Device(isDefault bool) model.PrinterDevice {
	return model.PrinterDevice{
		Name:           q.Name,
		IsOnline:       q.State != model.PrinterStopped && !q.HasReason("offline"),
		IsDefault:      isDefault,
		Status:         queueStatusText(q),
		SupportsColor:  q.ColorSupported,
		MaxCopies:      q.CopiesMax,
		SupportsDuplex: q.DuplexSupported,
		DeviceURI:      q.DeviceURI,
		MakeModel:      q.MakeModel,
		Location:       q.Location,
		StateReasons:   append([]string(nil), q.Reasons...),
	}
}

func queueStatusText(q QueueState) string {
	state := "unknown"
	switch q.State {
	case model.PrinterIdle:
		state = "idle"
	case model.PrinterProcessing:
		state = "processing"
	case model.PrinterStopped:
		state = "stopped"
	}
	if q.Message != "" {
		return state + " - " + q.Message
	}
	return state
}

var printerAttributes = []string{
	"printer-name",
	"printer-state",
	"printer-state-reasons",
	"printer-state-message",
	"printer-is-accepting-jobs",
	"device-uri",
	"printer-make-and-model",
	"printer-location",
	"color-supported",
	"copies-supported",
	"sides-supported",
}

func queueStateFromAttrs(attrs goipp.Attributes) QueueState {
	q := QueueState{
		Name:           attrString(attrs, "printer-name"),
		State:          attrInt(attrs, "printer-state"),
		Accepting:      attrBool(attrs, "printer-is-accepting-jobs"),
		Message:        attrString(attrs, "printer-state-message"),
		DeviceURI:      attrString(attrs, "device-uri"),
		MakeModel:      attrString(attrs, "printer-make-and-model"),
		Location:       attrString(attrs, "printer-location"),
		ColorSupported: attrBool(attrs, "color-supported"),
		CopiesMax:      attrInt(attrs, "copies-supported"),
	}
	for _, r := range attrStrings(attrs, "printer-state-reasons") {
		r = strings.ToLower(r)
		if r != "none" {
			q.Reasons = append(q.Reasons, r)
		}
	}
	for _, s := range attrStrings(attrs, "sides-supported") {
		if strings.HasPrefix(s, "two-sided") {
			q.DuplexSupported = true
		}
	}
	if q.CopiesMax <= 0 {
		q.CopiesMax = 1
	}
	return q
}

// Printers lists every queue known to the server.
func (c *Client) Printers(ctx context.Context) ([]QueueState, error) {
	req := c.newRequest(goipp.OpCupsGetPrinters)
	c.addUser(req)
	req.Operation.Add(requestedAttributes(printerAttributes...))
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(goipp.OpCupsGetPrinters, resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []QueueState
	for _, attrs := range groupsByTag(resp, goipp.TagPrinterGroup) {
		q := queueStateFromAttrs(attrs)
		if q.Name != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

// DefaultPrinter returns the server default queue, or "" when none is set.
func (c *Client) DefaultPrinter(ctx context.Context) (string, error) {
	req := c.newRequest(goipp.OpCupsGetDefault)
	req.Operation.Add(requestedAttributes("printer-name"))
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return "", err
	}
	if err := checkStatus(goipp.OpCupsGetDefault, resp); err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return attrString(resp.Printer, "printer-name"), nil
}

// PrinterState fetches one queue. A queue the server does not know returns ErrPrinterNotFound.
func (c *Client) PrinterState(ctx context.Context, name string) (QueueState, error) {
	resp, err := c.printerAttributes(ctx, name, printerAttributes...)
	if err != nil {
		return QueueState{}, err
	}
	q := queueStateFromAttrs(resp.Printer)
	if q.Name == "" {
		q.Name = name
	}
	return q, nil
}

func (c *Client) printerAttributes(ctx context.Context, name string, attrs ...string) (*goipp.Message, error) {
	req := c.newRequest(goipp.OpGetPrinterAttributes)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(name))))
	c.addUser(req)
	if len(attrs) > 0 {
		req.Operation.Add(requestedAttributes(attrs...))
	}
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(goipp.OpGetPrinterAttributes, resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrPrinterNotFound, name)
		}
		return nil, err
	}
	return resp, nil
}

var jobAttributes = []string{"job-id", "job-name", "job-state", "job-state-reasons"}

func queueJobFromAttrs(attrs goipp.Attributes) model.QueueJob {
	return model.QueueJob{
		ID:           attrInt(attrs, "job-id"),
		Name:         attrString(attrs, "job-name"),
		State:        attrInt(attrs, "job-state"),
		StateReasons: attrStrings(attrs, "job-state-reasons"),
	}
}

// Jobs lists the not-completed jobs queued on printer.
func (c *Client) Jobs(ctx context.Context, printer string) ([]model.QueueJob, error) {
	req := c.newRequest(goipp.OpGetJobs)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(printer))))
	c.addUser(req)
	req.Operation.Add(goipp.MakeAttribute("which-jobs", goipp.TagKeyword, goipp.String("not-completed")))
	req.Operation.Add(requestedAttributes(jobAttributes...))
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(goipp.OpGetJobs, resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []model.QueueJob
	for _, attrs := range groupsByTag(resp, goipp.TagJobGroup) {
		if j := queueJobFromAttrs(attrs); j.ID > 0 {
			out = append(out, j)
		}
	}
	return out, nil
}

// Job fetches a single job, including jobs that already left the active queue.
func (c *Client) Job(ctx context.Context, id int) (model.QueueJob, error) {
	req := c.newRequest(goipp.OpGetJobAttributes)
	req.Operation.Add(goipp.MakeAttribute("job-uri", goipp.TagURI, goipp.String(c.JobURI(id))))
	c.addUser(req)
	req.Operation.Add(requestedAttributes(jobAttributes...))
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return model.QueueJob{}, err
	}
	if err := checkStatus(goipp.OpGetJobAttributes, resp); err != nil {
		return model.QueueJob{}, err
	}
	j := queueJobFromAttrs(resp.Job)
	if j.ID == 0 {
		j.ID = id
	}
	return j, nil
}

// Document is one print request: every entry of Pages is sent as its own document
// of the same job.
type Document struct {
	JobName     string
	Format      string
	Pages       [][]byte
	Copies      int
	Media       model.PaperSize
	Orientation int
}

// Submit sends doc to printer and returns the job-id the server assigned (0 if none
// was reported). A multi-document job that fails part way is cancelled and no
// job-id is returned.
func (c *Client) Submit(ctx context.Context, printer string, doc Document) (int, error) {
	if len(doc.Pages) == 0 {
		return 0, errors.New("document has no pages")
	}
	if doc.Format == "" {
		doc.Format = "application/octet-stream"
	}
	if len(doc.Pages) == 1 {
		req := c.newRequest(goipp.OpPrintJob)
		req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(printer))))
		c.addUser(req)
		req.Operation.Add(goipp.MakeAttribute("job-name", goipp.TagName, goipp.String(doc.JobName)))
		req.Operation.Add(goipp.MakeAttribute("document-format", goipp.TagMimeType, goipp.String(doc.Format)))
		addJobTemplate(req, doc)
		resp, err := c.Send(ctx, req, bytes.NewReader(doc.Pages[0]))
		if err != nil {
			return 0, err
		}
		if err := checkStatus(goipp.OpPrintJob, resp); err != nil {
			return 0, err
		}
		return attrInt(resp.Job, "job-id"), nil
	}

	req := c.newRequest(goipp.OpCreateJob)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(printer))))
	c.addUser(req)
	req.Operation.Add(goipp.MakeAttribute("job-name", goipp.TagName, goipp.String(doc.JobName)))
	addJobTemplate(req, doc)
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return 0, err
	}
	if err := checkStatus(goipp.OpCreateJob, resp); err != nil {
		return 0, err
	}
	jobID := attrInt(resp.Job, "job-id")
	if jobID <= 0 {
		return 0, errors.New("create-job returned no job-id")
	}
	for i, page := range doc.Pages {
		send := c.newRequest(goipp.OpSendDocument)
		send.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(printer))))
		send.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
		c.addUser(send)
		send.Operation.Add(goipp.MakeAttribute("document-name", goipp.TagName, goipp.String(doc.JobName+"-"+strconv.Itoa(i+1))))
		send.Operation.Add(goipp.MakeAttribute("document-format", goipp.TagMimeType, goipp.String(doc.Format)))
		send.Operation.Add(goipp.MakeAttribute("last-document", goipp.TagBoolean, goipp.Boolean(i == len(doc.Pages)-1)))
		resp, err := c.Send(ctx, send, bytes.NewReader(page))
		if err == nil {
			err = checkStatus(goipp.OpSendDocument, resp)
		}
		if err != nil {
			c.abandon(ctx, printer, jobID)
			return 0, err
		}
	}
	return jobID, nil
}

// abandon cancels a job whose documents could not all be sent, so the scheduler
// does not print the partial job once its multiple-operation timeout expires.
func (c *Client) abandon(ctx context.Context, printer string, jobID int) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.CancelJob(cctx, jobID); err != nil {
		log.Printf("[cups] %s: cancel incomplete job %d failed: %v", printer, jobID, err)
	}
}

// CancelJob cancels one job.
func (c *Client) CancelJob(ctx context.Context, jobID int) error {
	req := c.newRequest(goipp.OpCancelJob)
	req.Operation.Add(goipp.MakeAttribute("job-uri", goipp.TagURI, goipp.String(c.JobURI(jobID))))
	c.addUser(req)
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return err
	}
	return checkStatus(goipp.OpCancelJob, resp)
}

// addJobTemplate asks for full-bleed media of the requested size. PWG media sizes
// are always expressed portrait; orientation-requested carries the rotation.
func addJobTemplate(req *goipp.Message, doc Document) {
	if doc.Copies > 1 {
		req.Job.Add(goipp.MakeAttribute("copies", goipp.TagInteger, goipp.Integer(doc.Copies)))
	}
	if doc.Media.Width > 0 && doc.Media.Height > 0 {
		short, long := doc.Media.Width, doc.Media.Height
		if short > long {
			short, long = long, short
		}
		size := goipp.Collection{}
		size.Add(goipp.MakeAttribute("x-dimension", goipp.TagInteger, goipp.Integer(inchesToHundredthMM(short))))
		size.Add(goipp.MakeAttribute("y-dimension", goipp.TagInteger, goipp.Integer(inchesToHundredthMM(long))))
		col := goipp.Collection{}
		col.Add(goipp.MakeAttribute("media-size", goipp.TagBeginCollection, size))
		if !doc.Media.Custom && doc.Media.Name != "" {
			col.Add(goipp.MakeAttribute("media-size-name", goipp.TagKeyword, goipp.String(doc.Media.Name)))
		}
		for _, m := range []string{"media-bottom-margin", "media-left-margin", "media-right-margin", "media-top-margin"} {
			col.Add(goipp.MakeAttribute(m, goipp.TagInteger, goipp.Integer(0)))
		}
		req.Job.Add(goipp.MakeAttribute("media-col", goipp.TagBeginCollection, col))
	}
	if doc.Orientation == 3 || doc.Orientation == 4 {
		req.Job.Add(goipp.MakeAttribute("orientation-requested", goipp.TagEnum, goipp.Integer(doc.Orientation)))
	}
}

// CancelAll cancels every queued job on printer. Servers without Cancel-Jobs get
// Purge-Jobs instead.
func (c *Client) CancelAll(ctx context.Context, printer string) error {
	err := c.cancelWith(ctx, goipp.OpCancelJobs, printer)
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && (se.Status == goipp.StatusErrorOperationNotSupported || se.Status == goipp.StatusErrorBadRequest) {
		return c.cancelWith(ctx, goipp.OpPurgeJobs, printer)
	}
	return err
}

func (c *Client) cancelWith(ctx context.Context, op goipp.Op, printer string) error {
	req := c.newRequest(op)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.PrinterURI(printer))))
	c.addUser(req)
	resp, err := c.Send(ctx, req, nil)
	if err != nil {
		return err
	}
	return checkStatus(op, resp)
}

// Supply is one marker reported by the queue.
type Supply struct {
	Name  string
	Type  string
	Level int
	High  int
}

// Supplies returns the queue's marker-* attributes, falling back to printer-supply
// strings ("type=...;maxcapacity=...;level=...;").
func (c *Client) Supplies(ctx context.Context, printer string) ([]Supply, error) {
	resp, err := c.printerAttributes(ctx, printer,
		"marker-names", "marker-types", "marker-levels", "marker-high-levels",
		"printer-supply", "printer-supply-description")
	if err != nil {
		return nil, err
	}
	attrs := resp.Printer
	levels := attrInts(attrs, "marker-levels")
	if len(levels) > 0 {
		names := attrStrings(attrs, "marker-names")
		types := attrStrings(attrs, "marker-types")
		highs := attrInts(attrs, "marker-high-levels")
		out := make([]Supply, 0, len(levels))
		for i, lvl := range levels {
			s := Supply{Level: lvl, High: 100}
			if i < len(names) {
				s.Name = names[i]
			}
			if i < len(types) {
				s.Type = types[i]
			}
			if i < len(highs) && highs[i] > 0 {
				s.High = highs[i]
			}
			out = append(out, s)
		}
		return out, nil
	}
	descs := attrStrings(attrs, "printer-supply-description")
	var out []Supply
	for i, raw := range attrStrings(attrs, "printer-supply") {
		s, ok := parsePrinterSupply(raw)
		if !ok {
			continue
		}
		if i < len(descs) {
			s.Name = descs[i]
		}
		out = append(out, s)
	}
	return out, nil
}

func parsePrinterSupply(raw string) (Supply, bool) {
	s := Supply{Level: -1}
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		switch strings.ToLower(k) {
		case "type":
			s.Type = strings.TrimSpace(v)
		case "maxcapacity":
			s.High = n
		case "level":
			s.Level = n
		}
	}
	return s, s.Level != -1
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == goipp.StatusErrorNotFound
}

func inchesToHundredthMM(in float64) int {
	return int(math.Round(in * 2540))
}

func hundredthMMToInches(v int) float64 {
	return float64(v) / 2540
}
