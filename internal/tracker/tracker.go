// Package tracker hands a rendered document to the spooler and decides, by
// polling the queue and the device, whether the job finished, failed or lost its
// printer.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

// Terminal session states reported in Result.State.
const (
	StateSubmitted          = "submitted"
	StateCompleted          = "completed"
	StateTimedOut           = "timed-out"
	StateOfflineAborted     = "offline-aborted"
	StateSubmissionFailed   = "submission-failed"
	StatePreconditionFailed = "precondition-failed"
	StateJobFailed          = "job-failed"
	StateCanceled           = "canceled"
)

type PrinterResolver interface {
	ResolvePrinter(ctx context.Context) (string, error)
}

// StatusOracle answers the offline and hardware-idle questions. Status answers
// both from one device read and is used once idle readings count.
type StatusOracle interface {
	IsOffline(ctx context.Context, name string) bool
	Status(ctx context.Context, name string) (offline, idle bool)
}

type Queue interface {
	Jobs(ctx context.Context, printer string) ([]model.QueueJob, error)
	Job(ctx context.Context, id int) (model.QueueJob, error)
	Submit(ctx context.Context, printer string, doc cupsclient.Document) (int, error)
	CancelAll(ctx context.Context, printer string) error
}

type Timing struct {
	QueuePollInterval     time.Duration
	HardwarePollInterval  time.Duration
	FirstPageSeconds      int
	AdditionalPageSeconds int
	MinimumWaitFraction   float64
	MinimumWaitFloor      int
	MaximumWaitBuffer     int
	AbsoluteMaximumWait   time.Duration
	OfflineDebounce       int
	DiscoveryGracePolls   int
}

func DefaultTiming() Timing {
	return Timing{
		QueuePollInterval:     time.Second,
		HardwarePollInterval:  2 * time.Second,
		FirstPageSeconds:      18,
		AdditionalPageSeconds: 12,
		MinimumWaitFraction:   0.6,
		MinimumWaitFloor:      10,
		MaximumWaitBuffer:     10,
		AbsoluteMaximumWait:   300 * time.Second,
		OfflineDebounce:       5,
		DiscoveryGracePolls:   3,
	}
}

func (t Timing) normalized() Timing {
	def := DefaultTiming()
	if t.QueuePollInterval <= 0 {
		t.QueuePollInterval = def.QueuePollInterval
	}
	if t.HardwarePollInterval <= 0 {
		t.HardwarePollInterval = def.HardwarePollInterval
	}
	if t.FirstPageSeconds <= 0 {
		t.FirstPageSeconds = def.FirstPageSeconds
	}
	if t.AdditionalPageSeconds < 0 {
		t.AdditionalPageSeconds = def.AdditionalPageSeconds
	}
	if t.MinimumWaitFraction <= 0 || t.MinimumWaitFraction > 1 {
		t.MinimumWaitFraction = def.MinimumWaitFraction
	}
	if t.OfflineDebounce < 1 {
		t.OfflineDebounce = 1
	}
	if t.DiscoveryGracePolls < 1 {
		t.DiscoveryGracePolls = 1
	}
	return t
}

// Estimate is the expected print time in seconds for pages physical pages.
func Estimate(pages, firstPageSeconds, additionalPageSeconds int) int {
	if pages < 1 {
		pages = 1
	}
	return firstPageSeconds + (pages-1)*additionalPageSeconds
}

type Tracker struct {
	printers PrinterResolver
	oracle   StatusOracle
	queue    Queue
	timing   Timing
	clock    Clock
}

type Option func(*Tracker)

func WithTiming(t Timing) Option {
	return func(tr *Tracker) {
		tr.timing = t.normalized()
	}
}

func WithClock(c Clock) Option {
	return func(tr *Tracker) {
		if c != nil {
			tr.clock = c
		}
	}
}

func New(printers PrinterResolver, oracle StatusOracle, queue Queue, opts ...Option) *Tracker {
	t := &Tracker{
		printers: printers,
		oracle:   oracle,
		queue:    queue,
		timing:   DefaultTiming(),
		clock:    realClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Request is one submission. Pages is the physical page count used for the time
// estimate; Wait selects whether Print tracks the job to completion.
type Request struct {
	SessionID string
	Pages     int
	Document  cupsclient.Document
	Wait      bool
}

// Print runs one session from preflight to a terminal state. The returned Result
// carries a *Error for every failure except a cancelled context.
func (t *Tracker) Print(ctx context.Context, req Request) model.Result {
	start := t.clock.Now()
	est := Estimate(req.Pages, t.timing.FirstPageSeconds, t.timing.AdditionalPageSeconds)
	s := model.NewPrintJobSession(req.SessionID, "", req.Document.JobName, req.Pages, est,
		t.timing.MinimumWaitFraction, t.timing.MinimumWaitFloor, t.timing.MaximumWaitBuffer)

	printer, err := t.printers.ResolvePrinter(ctx)
	if err != nil {
		return t.fail(&s, start, StatePreconditionFailed, NewError(ErrorPrecondition, "resolve printer", "", err))
	}
	s.PrinterName = printer

	if t.oracle.IsOffline(ctx, printer) {
		log.Printf("[tracker] %s: offline before submission, clearing queued jobs", printer)
		t.cancelAll(ctx, printer)
		return t.fail(&s, start, StateOfflineAborted, NewError(ErrorOffline, "preflight", printer, errors.New("printer is offline")))
	}

	known := t.knownJobs(ctx, printer)
	s.SubmittedAt = t.clock.Now()
	jobID, err := t.queue.Submit(ctx, printer, req.Document)
	if err != nil {
		return t.fail(&s, start, StateSubmissionFailed, NewError(ErrorSubmission, "submit", printer, err))
	}
	s.TrackedJobID = jobID
	log.Printf("[tracker] %s: submitted %q job=%d pages=%d estimate=%ds wait=%d-%ds",
		printer, s.TrackedJobName, jobID, s.TotalPagesNeeded, s.EstimatedDurationSeconds,
		s.MinimumWaitSeconds, s.MaximumWaitSeconds)

	if t.oracle.IsOffline(ctx, printer) {
		log.Printf("[tracker] %s: went offline right after submission, cancelling queued jobs", printer)
		t.cancelAll(ctx, printer)
		return t.fail(&s, start, StateOfflineAborted, NewError(ErrorOffline, "submit", printer, errors.New("printer went offline after submission")))
	}
	if !req.Wait {
		return t.finish(&s, start, model.OutcomeSuccess, StateSubmitted, "submitted")
	}
	return t.monitor(ctx, &s, start, known)
}

type queueSignal int

const (
	queuePending queueSignal = iota
	queueCompleted
	queueFailed
	queueGone
)

func (t *Tracker) monitor(ctx context.Context, s *model.PrintJobSession, start time.Time, known map[int]bool) model.Result {
	printer := s.PrinterName
	minWait := time.Duration(s.MinimumWaitSeconds) * time.Second
	ceiling := time.Duration(s.MaximumWaitSeconds) * time.Second
	if abs := t.timing.AbsoluteMaximumWait; abs > 0 && abs < ceiling {
		ceiling = abs
	}
	hardware := false
	grace := 0
	for {
		elapsed := t.since(s)
		if elapsed >= ceiling {
			log.Printf("[tracker] %s: no confirmation after %s, assuming job %d printed", printer, elapsed.Round(time.Second), s.TrackedJobID)
			return t.finish(s, start, model.OutcomeTimeoutAssumedSuccess, StateTimedOut, "wait ceiling reached")
		}
		interval := t.timing.QueuePollInterval
		if hardware {
			interval = t.timing.HardwarePollInterval
		}
		if rem := ceiling - elapsed; interval > rem {
			interval = rem
		}
		if err := t.clock.Sleep(ctx, interval); err != nil {
			return t.canceled(s, start, err)
		}
		elapsed = t.since(s)

		// One status read per iteration: once idle readings count, the offline
		// and idle answers come from the same read.
		counting := hardware && elapsed >= minWait
		var offline, idle bool
		if counting {
			offline, idle = t.oracle.Status(ctx, printer)
		} else {
			offline = t.oracle.IsOffline(ctx, printer)
		}
		if offline {
			s.ConsecutiveOfflineChecks++
			s.ConsecutiveIdleChecks = 0
			log.Printf("[tracker] %s: offline reading %d/%d", printer, s.ConsecutiveOfflineChecks, t.timing.OfflineDebounce)
			if s.ConsecutiveOfflineChecks >= t.timing.OfflineDebounce {
				log.Printf("[tracker] %s: offline while printing, cancelling queued jobs", printer)
				t.cancelAll(ctx, printer)
				return t.fail(s, start, StateOfflineAborted, NewError(ErrorOffline, "monitor", printer,
					fmt.Errorf("printer offline for %d consecutive checks", s.ConsecutiveOfflineChecks)))
			}
			continue
		}
		s.ConsecutiveOfflineChecks = 0

		if !hardware {
			signal, job := t.pollQueue(ctx, s, known, &grace)
			switch signal {
			case queueCompleted:
				log.Printf("[tracker] %s: job %d completed in queue", printer, s.TrackedJobID)
				return t.holdUntil(ctx, s, start, minWait)
			case queueFailed:
				reason := fmt.Sprintf("job %d ended in state %d", job.ID, job.State)
				if len(job.StateReasons) > 0 {
					reason += " (" + strings.Join(job.StateReasons, ",") + ")"
				}
				return t.fail(s, start, StateJobFailed, NewError(ErrorJobFailed, "monitor", printer, errors.New(reason)))
			case queueGone:
				log.Printf("[tracker] %s: job %d left the queue, polling hardware", printer, s.TrackedJobID)
				hardware = true
			}
			continue
		}

		if !counting {
			continue
		}
		if idle {
			s.ConsecutiveIdleChecks++
			if s.ConsecutiveIdleChecks >= s.RequiredConsecutiveIdleChecks {
				return t.finish(s, start, model.OutcomeSuccess, StateCompleted, "hardware idle")
			}
			continue
		}
		if s.ConsecutiveIdleChecks > 0 {
			log.Printf("[tracker] %s: busy reading after %d idle, restarting count", printer, s.ConsecutiveIdleChecks)
		}
		s.ConsecutiveIdleChecks = 0
	}
}

// pollQueue reads the active queue once. A job missing from it gets one direct
// lookup for a terminal state before it is reported gone.
func (t *Tracker) pollQueue(ctx context.Context, s *model.PrintJobSession, known map[int]bool, grace *int) (queueSignal, model.QueueJob) {
	jobs, err := t.queue.Jobs(ctx, s.PrinterName)
	if err != nil {
		log.Printf("[tracker] %s: queue query failed: %v", s.PrinterName, err)
	}
	if s.TrackedJobID == 0 {
		job, ok := discoverJob(jobs, known, s.TrackedJobName)
		if !ok {
			*grace++
			if *grace >= t.timing.DiscoveryGracePolls {
				log.Printf("[tracker] %s: no new job after %d polls", s.PrinterName, *grace)
				return queueGone, model.QueueJob{}
			}
			return queuePending, model.QueueJob{}
		}
		s.TrackedJobID = job.ID
		log.Printf("[tracker] %s: tracking job %d", s.PrinterName, job.ID)
	}
	if err != nil {
		return queuePending, model.QueueJob{}
	}
	for _, j := range jobs {
		if j.ID != s.TrackedJobID {
			continue
		}
		switch {
		case j.Failed():
			return queueFailed, j
		case j.Completed():
			return queueCompleted, j
		}
		return queuePending, j
	}
	j, err := t.queue.Job(ctx, s.TrackedJobID)
	if err != nil {
		return queueGone, model.QueueJob{ID: s.TrackedJobID}
	}
	switch {
	case j.Failed():
		return queueFailed, j
	case j.Completed():
		return queueCompleted, j
	}
	return queueGone, j
}

// discoverJob picks the job that appeared since submission, preferring one
// carrying the submitted name, else the newest.
func discoverJob(jobs []model.QueueJob, known map[int]bool, name string) (model.QueueJob, bool) {
	var best model.QueueJob
	found := false
	for _, j := range jobs {
		if known[j.ID] {
			continue
		}
		if name != "" && j.Name == name {
			return j, true
		}
		if !found || j.ID > best.ID {
			best = j
			found = true
		}
	}
	return best, found
}

func (t *Tracker) holdUntil(ctx context.Context, s *model.PrintJobSession, start time.Time, minWait time.Duration) model.Result {
	if rem := minWait - t.since(s); rem > 0 {
		if err := t.clock.Sleep(ctx, rem); err != nil {
			return t.canceled(s, start, err)
		}
	}
	return t.finish(s, start, model.OutcomeSuccess, StateCompleted, "job completed")
}

func (t *Tracker) knownJobs(ctx context.Context, printer string) map[int]bool {
	known := map[int]bool{}
	jobs, err := t.queue.Jobs(ctx, printer)
	if err != nil {
		log.Printf("[tracker] %s: queue query before submit failed: %v", printer, err)
		return known
	}
	for _, j := range jobs {
		known[j.ID] = true
	}
	return known
}

// cancelAll runs even when ctx is already cancelled so queued jobs never print
// after the printer returns.
func (t *Tracker) cancelAll(ctx context.Context, printer string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := t.queue.CancelAll(cctx, printer); err != nil {
		log.Printf("[tracker] %s: cancel queued jobs failed: %v", printer, err)
		return
	}
	log.Printf("[tracker] %s: cancelled queued jobs", printer)
}

func (t *Tracker) since(s *model.PrintJobSession) time.Duration {
	d := t.clock.Now().Sub(s.SubmittedAt)
	s.ElapsedSeconds = d.Seconds()
	return d
}

func (t *Tracker) finish(s *model.PrintJobSession, start time.Time, outcome model.Outcome, state, reason string) model.Result {
	if !s.SubmittedAt.IsZero() {
		t.since(s)
	}
	return model.Result{
		Outcome: outcome,
		State:   state,
		Reason:  reason,
		Elapsed: t.clock.Now().Sub(start),
		Session: *s,
	}
}

func (t *Tracker) fail(s *model.PrintJobSession, start time.Time, state string, err error) model.Result {
	log.Printf("[tracker] %s", err)
	r := t.finish(s, start, model.OutcomeFailure, state, err.Error())
	r.Err = err
	return r
}

func (t *Tracker) canceled(s *model.PrintJobSession, start time.Time, err error) model.Result {
	log.Printf("[tracker] %s: stopped waiting for job %d: %v", s.PrinterName, s.TrackedJobID, err)
	r := t.finish(s, start, model.OutcomeFailure, StateCanceled, err.Error())
	r.Err = err
	return r
}
