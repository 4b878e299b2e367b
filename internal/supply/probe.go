// Package supply estimates how much paper or ribbon is left in a printer. It is
// informational only and never gates a print.
package supply

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"kioskprint/internal/backend"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

// Result sources.
const (
	SourceQueue  = "queue"
	SourceDevice = "device"
	SourceHint   = "driver-hint"
	SourceNone   = "none"
)

type QueueSupplies interface {
	Supplies(ctx context.Context, printer string) ([]cupsclient.Supply, error)
}

type DeviceSource interface {
	Device(ctx context.Context, name string) (model.PrinterDevice, error)
}

type Hardware interface {
	Query(ctx context.Context, name, deviceURI string) (backend.Properties, error)
	Supplies(ctx context.Context, name, deviceURI string) (backend.SupplyStatus, error)
}

type Probe struct {
	queue      QueueSupplies
	devices    DeviceSource
	hardware   Hardware
	lowPercent int
	now        func() time.Time
}

type Option func(*Probe)

func WithLowPercent(n int) Option {
	return func(p *Probe) {
		if n > 0 && n < 100 {
			p.lowPercent = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Probe) {
		if now != nil {
			p.now = now
		}
	}
}

func New(queue QueueSupplies, devices DeviceSource, hardware Hardware, opts ...Option) *Probe {
	p := &Probe{
		queue:      queue,
		devices:    devices,
		hardware:   hardware,
		lowPercent: backend.DefaultLowPercent,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// reading is one strategy's view of the consumable.
type reading struct {
	name     string
	percent  int
	prints   int
	capacity int
}

// Check runs the strategies in order: queue marker levels, device management
// walk, free-text hints in the device's properties. The first that yields a
// level wins. When every strategy fails the status is error.
func (p *Probe) Check(ctx context.Context, printer string) model.RollCapacityInfo {
	info := model.RollCapacityInfo{
		Source:    SourceNone,
		Status:    model.SupplyUnknown,
		Details:   map[string]string{},
		CheckedAt: p.now(),
	}
	attempts, failures := 0, 0

	if p.queue != nil {
		attempts++
		supplies, err := p.queue.Supplies(ctx, printer)
		if err != nil {
			failures++
			info.Details["queue.error"] = err.Error()
		} else if r, ok := fromQueue(supplies, info.Details); ok {
			return p.finish(info, SourceQueue, r)
		}
	}
	if p.hardware == nil {
		return p.unresolved(info, attempts, failures)
	}

	uri := ""
	if p.devices != nil {
		dev, err := p.devices.Device(ctx, printer)
		if err != nil {
			info.Details["device.error"] = err.Error()
		} else {
			uri = dev.DeviceURI
			info.Details["device-uri"] = uri
		}
	}

	attempts++
	st, err := p.hardware.Supplies(ctx, printer, uri)
	switch {
	case backend.IsUnsupported(err):
		info.Details["device.supplies"] = "unsupported"
	case err != nil:
		failures++
		info.Details["device.error"] = err.Error()
	default:
		for k, v := range st.Details {
			info.Details["device."+k] = v
		}
		if r, ok := fromLevels(st.Levels); ok {
			return p.finish(info, SourceDevice, r)
		}
	}

	attempts++
	props, err := p.hardware.Query(ctx, printer, uri)
	if err != nil {
		failures++
		info.Details["hint.error"] = err.Error()
		return p.unresolved(info, attempts, failures)
	}
	if r, ok := fromHints(props); ok {
		return p.finish(info, SourceHint, r)
	}
	return p.unresolved(info, attempts, failures)
}

func (p *Probe) finish(info model.RollCapacityInfo, source string, r reading) model.RollCapacityInfo {
	info.IsAvailable = true
	info.Source = source
	if r.name != "" {
		info.Details["supply"] = r.name
	}
	if r.prints >= 0 {
		info.RemainingPrints = intPtr(r.prints)
	}
	if r.capacity > 0 {
		info.MaxCapacity = intPtr(r.capacity)
		if r.percent < 0 && r.prints >= 0 {
			r.percent = min(100, r.prints*100/r.capacity)
		}
	}
	if r.percent >= 0 {
		info.RemainingPercentage = intPtr(r.percent)
	}
	info.Status = p.status(r)
	return info
}

func (p *Probe) status(r reading) string {
	switch {
	case r.percent == 0 || r.prints == 0:
		return model.SupplyOut
	case r.percent > 0 && r.percent <= p.lowPercent:
		return model.SupplyLow
	case r.percent > 0:
		return model.SupplyOK
	case r.prints > 0:
		return model.SupplyOK
	}
	return model.SupplyUnknown
}

func (p *Probe) unresolved(info model.RollCapacityInfo, attempts, failures int) model.RollCapacityInfo {
	if attempts > 0 && failures == attempts {
		info.Status = model.SupplyError
	}
	log.Printf("[supply] no supply level available: status=%s", info.Status)
	return info
}

// mediaWords mark the supplies that limit how many prints are left.
var mediaWords = []string{"media", "paper", "roll", "ribbon"}

func isMedia(s string) bool {
	s = strings.ToLower(s)
	for _, w := range mediaWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// fromQueue picks the lowest media supply the queue reports, or the lowest of
// any kind when none is media. Negative IPP levels mean unknown.
func fromQueue(supplies []cupsclient.Supply, details map[string]string) (reading, bool) {
	var best reading
	found, bestMedia := false, false
	for i, s := range supplies {
		key := "queue." + strconv.Itoa(i)
		details[key+".name"] = s.Name
		details[key+".type"] = s.Type
		details[key+".level"] = strconv.Itoa(s.Level)
		if s.Level < 0 {
			continue
		}
		high := s.High
		if high <= 0 {
			high = 100
		}
		r := reading{name: s.Name, percent: min(100, s.Level*100/high), prints: -1}
		if high != 100 {
			r.prints = s.Level
			r.capacity = high
		}
		media := isMedia(s.Type) || isMedia(s.Name)
		if !found || (media && !bestMedia) || (media == bestMedia && r.percent < best.percent) {
			best, found, bestMedia = r, true, media
		}
	}
	return best, found
}

// fromLevels prefers input trays, whose level counts sheets, over markers.
func fromLevels(levels []backend.SupplyLevel) (reading, bool) {
	sorted := append([]backend.SupplyLevel(nil), levels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind == "input" && sorted[j].Kind != "input"
	})
	for _, l := range sorted {
		pct := l.Percent()
		counted := l.Kind == "input" && l.Level >= 0
		if pct < 0 && !counted {
			continue
		}
		r := reading{name: l.Name, percent: pct, prints: -1}
		if counted {
			r.prints = l.Level
			if l.Max > 0 {
				r.capacity = l.Max
			}
		}
		return r, true
	}
	return reading{}, false
}

var (
	printsPattern  = regexp.MustCompile(`(?i)(\d+)\s*(?:prints?|sheets?|pages?|media)\s*(?:remaining|left)`)
	capacityHint   = regexp.MustCompile(`(?i)(\d+)\s*/\s*(\d+)\s*(?:prints?|sheets?)`)
	percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)
)

// fromHints scans the device's free-form properties for counters some drivers
// report as text, such as "123 prints remaining" or "45%".
func fromHints(props backend.Properties) (reading, bool) {
	r := reading{percent: -1, prints: -1}
	found := false
	for _, key := range props.Keys() {
		if key == backend.PropStatusCode || key == backend.PropWorkOffline {
			continue
		}
		v := props[key]
		if m := capacityHint.FindStringSubmatch(v); m != nil && r.prints < 0 {
			r.prints, _ = strconv.Atoi(m[1])
			r.capacity, _ = strconv.Atoi(m[2])
			r.name = key
			found = true
		}
		if m := printsPattern.FindStringSubmatch(v); m != nil && r.prints < 0 {
			r.prints, _ = strconv.Atoi(m[1])
			r.name = key
			found = true
		}
		if m := percentPattern.FindStringSubmatch(v); m != nil && r.percent < 0 {
			if n, err := strconv.Atoi(m[1]); err == nil && n <= 100 {
				r.percent = n
				if r.name == "" {
					r.name = key
				}
				found = true
			}
		}
	}
	return r, found
}

func intPtr(v int) *int { return &v }
