// Package device keeps the kiosk's view of installed printers: enumeration, the
// selected printer, and a bounded-staleness status snapshot of it.
package device

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"kioskprint/internal/backend"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

// DefaultFreshness is how long a cached snapshot may be served without a refresh.
const DefaultFreshness = 5 * time.Second

var ErrNoPrinter = errors.New("no printer selected and no system default")

// Spooler is the part of the print spooler the registry needs.
type Spooler interface {
	Printers(ctx context.Context) ([]cupsclient.QueueState, error)
	DefaultPrinter(ctx context.Context) (string, error)
	PrinterState(ctx context.Context, name string) (cupsclient.QueueState, error)
}

type DiscoverFunc func(ctx context.Context, timeout time.Duration) []backend.Device

type Registry struct {
	spooler   Spooler
	freshness time.Duration
	now       func() time.Time
	discover  DiscoverFunc

	mu       sync.Mutex
	selected string
	cache    *model.CachedStatus
	inflight *refreshCall
	// bumped on Select so a refresh started for the old printer is not cached
	generation int
}

type refreshCall struct {
	done   chan struct{}
	status model.CachedStatus
	err    error
}

type Option func(*Registry)

func WithFreshness(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.freshness = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithDiscovery(fn DiscoverFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.discover = fn
		}
	}
}

func New(spooler Spooler, opts ...Option) *Registry {
	r := &Registry{
		spooler:   spooler,
		freshness: DefaultFreshness,
		now:       time.Now,
		discover:  backend.Discover,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Enumerate returns a fresh snapshot of every installed printer.
func (r *Registry) Enumerate(ctx context.Context) ([]model.PrinterDevice, error) {
	queues, err := r.spooler.Printers(ctx)
	if err != nil {
		return nil, err
	}
	def, err := r.spooler.DefaultPrinter(ctx)
	if err != nil {
		log.Printf("[device] default printer lookup failed: %v", err)
		def = ""
	}
	out := make([]model.PrinterDevice, 0, len(queues))
	for _, q := range queues {
		out = append(out, q.Device(def != "" && strings.EqualFold(q.Name, def)))
	}
	return out, nil
}

// Select makes name the selected printer. An empty name falls back to the system
// default. The cached snapshot is dropped.
func (r *Registry) Select(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == r.selected {
		return
	}
	r.selected = name
	r.cache = nil
	r.generation++
}

func (r *Registry) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// ResolvePrinter returns the selected printer, else the system default.
func (r *Registry) ResolvePrinter(ctx context.Context) (string, error) {
	if name := r.Selected(); name != "" {
		return name, nil
	}
	def, err := r.spooler.DefaultPrinter(ctx)
	if err != nil {
		return "", err
	}
	if def == "" {
		return "", ErrNoPrinter
	}
	return def, nil
}

// Refresh re-queries the selected printer and replaces the cached snapshot.
// Concurrent callers share one in-flight query.
func (r *Registry) Refresh(ctx context.Context) (model.CachedStatus, error) {
	r.mu.Lock()
	if call := r.inflight; call != nil {
		r.mu.Unlock()
		return waitRefresh(ctx, call)
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inflight = call
	selected := r.selected
	gen := r.generation
	r.mu.Unlock()

	call.status, call.err = r.snapshot(ctx, selected)

	r.mu.Lock()
	if call.err == nil && gen == r.generation {
		st := call.status
		r.cache = &st
	}
	r.inflight = nil
	r.mu.Unlock()
	close(call.done)
	return call.status, call.err
}

func waitRefresh(ctx context.Context, call *refreshCall) (model.CachedStatus, error) {
	select {
	case <-call.done:
		return call.status, call.err
	case <-ctx.Done():
		return model.CachedStatus{}, ctx.Err()
	}
}

// GetOrRefresh serves the cached snapshot while it is younger than the freshness
// window and refreshes synchronously otherwise.
func (r *Registry) GetOrRefresh(ctx context.Context) (model.CachedStatus, error) {
	r.mu.Lock()
	if r.cache != nil && r.cache.Fresh(r.now(), r.freshness) {
		st := *r.cache
		r.mu.Unlock()
		return st, nil
	}
	r.mu.Unlock()
	return r.Refresh(ctx)
}

// Device returns a snapshot of name: the cached one when name is the selected
// printer, a direct query otherwise.
func (r *Registry) Device(ctx context.Context, name string) (model.PrinterDevice, error) {
	selected := r.Selected()
	if selected != "" && strings.EqualFold(selected, name) {
		st, err := r.GetOrRefresh(ctx)
		return st.Device, err
	}
	q, err := r.spooler.PrinterState(ctx, name)
	if err != nil {
		return model.PrinterDevice{}, err
	}
	return q.Device(false), nil
}

// Current reads name from the spooler without consulting the freshness window.
// Polls that count consecutive readings use it so every reading is a new
// observation. A read of the selected printer also replaces the cached snapshot.
func (r *Registry) Current(ctx context.Context, name string) (model.PrinterDevice, error) {
	r.mu.Lock()
	selected, gen := r.selected, r.generation
	r.mu.Unlock()

	q, err := r.spooler.PrinterState(ctx, name)
	if err != nil {
		return model.PrinterDevice{}, err
	}
	dev := q.Device(false)
	if selected == "" || !strings.EqualFold(selected, name) {
		return dev, nil
	}
	r.mu.Lock()
	if gen == r.generation {
		if r.cache != nil {
			dev.IsDefault = r.cache.Device.IsDefault
		}
		r.cache = &model.CachedStatus{Device: dev, CapturedAt: r.now()}
	}
	r.mu.Unlock()
	return dev, nil
}

func (r *Registry) snapshot(ctx context.Context, selected string) (model.CachedStatus, error) {
	def, err := r.spooler.DefaultPrinter(ctx)
	if err != nil {
		def = ""
	}
	name := selected
	if name == "" {
		name = def
	}
	if name == "" {
		return model.CachedStatus{}, ErrNoPrinter
	}
	q, err := r.spooler.PrinterState(ctx, name)
	if err != nil {
		return model.CachedStatus{}, err
	}
	return model.CachedStatus{
		Device:     q.Device(def != "" && strings.EqualFold(def, name)),
		CapturedAt: r.now(),
	}, nil
}

// Discover browses the network for printers that are not necessarily installed
// as queues.
func (r *Registry) Discover(ctx context.Context, timeout time.Duration) []backend.Device {
	return r.discover(ctx, timeout)
}
