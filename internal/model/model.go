package model

import (
	"math"
	"time"
)

type PrinterDevice struct {
	Name           string
	IsOnline       bool
	IsDefault      bool
	Status         string
	SupportsColor  bool
	MaxCopies      int
	SupportsDuplex bool
	DeviceURI      string
	MakeModel      string
	Location       string
	StateReasons   []string
}

type CachedStatus struct {
	Device     PrinterDevice
	CapturedAt time.Time
}

// Fresh reports whether the snapshot is younger than window at now.
func (c CachedStatus) Fresh(now time.Time, window time.Duration) bool {
	if c.CapturedAt.IsZero() {
		return false
	}
	return now.Sub(c.CapturedAt) < window
}

// PaperSize dimensions are in inches.
type PaperSize struct {
	Name   string
	Width  float64
	Height float64
	Custom bool
}

func (p PaperSize) IsLandscape() bool {
	return p.Width > p.Height
}

// Landscape returns the size with the long edge as width.
func (p PaperSize) Landscape() PaperSize {
	if p.Height > p.Width {
		p.Width, p.Height = p.Height, p.Width
	}
	return p
}

type Rect struct {
	X, Y          float64
	Width, Height float64
}

func (r Rect) CenterX() float64 { return r.X + r.Width/2 }
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }

type Placement struct {
	Page            int
	Slot            int
	Dest            Rect
	RotationDegrees int
	Scale           float64
}

type PageLayoutPlan struct {
	Paper               PaperSize
	IsLandscape         bool
	Copies              int
	ImagesPerPage       int
	TotalPages          int
	DPI                 int
	Drawable            Rect
	OrientationMismatch bool
	Pages               [][]Placement
}

func (p PageLayoutPlan) PlacementCount() int {
	n := 0
	for _, page := range p.Pages {
		n += len(page)
	}
	return n
}

// Hardware status codes reported by device management queries. Values follow the
// Host Resources MIB hrPrinterStatus numbering, extended with stopped and offline.
const (
	HardwareOther    = 1
	HardwareUnknown  = 2
	HardwareIdle     = 3
	HardwarePrinting = 4
	HardwareWarmup   = 5
	HardwareStopped  = 6
	HardwareOffline  = 7
)

func HardwareStatusName(code int) string {
	switch code {
	case HardwareOther:
		return "other"
	case HardwareIdle:
		return "idle"
	case HardwarePrinting:
		return "printing"
	case HardwareWarmup:
		return "warmup"
	case HardwareStopped:
		return "stopped"
	case HardwareOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// IPP job-state values.
const (
	JobPending           = 3
	JobHeld              = 4
	JobProcessing        = 5
	JobProcessingStopped = 6
	JobCanceled          = 7
	JobAborted           = 8
	JobCompleted         = 9
)

// IPP printer-state values.
const (
	PrinterIdle       = 3
	PrinterProcessing = 4
	PrinterStopped    = 5
)

type QueueJob struct {
	ID           int
	Name         string
	State        int
	StateReasons []string
}

func (j QueueJob) Completed() bool {
	return j.State == JobCompleted
}

func (j QueueJob) Failed() bool {
	return j.State == JobCanceled || j.State == JobAborted
}

type PrintJobSession struct {
	ID                       string
	PrinterName              string
	SubmittedAt              time.Time
	TotalPagesNeeded         int
	EstimatedDurationSeconds int
	TrackedJobID             int
	TrackedJobName           string
	ElapsedSeconds           float64
	ConsecutiveIdleChecks    int
	ConsecutiveOfflineChecks int

	MinimumWaitSeconds            int
	MaximumWaitSeconds            int
	RequiredConsecutiveIdleChecks int
}

// NewPrintJobSession derives the wait bounds for a job of pages physical pages.
func NewPrintJobSession(id, printer, jobName string, pages, estimatedSeconds int, minFraction float64, minFloor, buffer int) PrintJobSession {
	if pages < 1 {
		pages = 1
	}
	minWait := int(math.Ceil(float64(estimatedSeconds) * minFraction))
	if minWait < minFloor {
		minWait = minFloor
	}
	required := 2
	if pages > 1 {
		required = 4
	}
	return PrintJobSession{
		ID:                            id,
		PrinterName:                   printer,
		TotalPagesNeeded:              pages,
		EstimatedDurationSeconds:      estimatedSeconds,
		TrackedJobName:                jobName,
		MinimumWaitSeconds:            minWait,
		MaximumWaitSeconds:            estimatedSeconds + buffer,
		RequiredConsecutiveIdleChecks: required,
	}
}

const (
	SupplyOK      = "ok"
	SupplyLow     = "low"
	SupplyOut     = "out"
	SupplyUnknown = "unknown"
	SupplyError   = "error"
)

type RollCapacityInfo struct {
	IsAvailable         bool
	Source              string
	Status              string
	RemainingPercentage *int
	RemainingPrints     *int
	MaxCapacity         *int
	Details             map[string]string
	CheckedAt           time.Time
}

type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomeFailure               Outcome = "failure"
	OutcomeTimeoutAssumedSuccess Outcome = "timeout-assumed-success"
)

type Result struct {
	Outcome Outcome
	State   string
	Reason  string
	Err     error
	Elapsed time.Duration
	Session PrintJobSession
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeTimeoutAssumedSuccess
}
