// Package status merges the spooler's queue flags and the device's own management
// status into the two questions the print tracker asks: is the printer offline, and
// is the hardware idle.
package status

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"kioskprint/internal/backend"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

// DeviceSource supplies the queue state of a printer, read anew on every call.
// The device registry's Current satisfies it.
type DeviceSource interface {
	Current(ctx context.Context, name string) (model.PrinterDevice, error)
}

// HardwareQuerier returns the raw management properties of the device behind a queue.
type HardwareQuerier interface {
	Query(ctx context.Context, name, deviceURI string) (backend.Properties, error)
}

type Oracle struct {
	devices  DeviceSource
	hardware HardwareQuerier
	uris     *expirable.LRU[string, string]
	slow     time.Duration
}

type Option func(*Oracle)

// WithSlowQueryThreshold logs every status query that takes longer than d.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.slow = d
		}
	}
}

// WithDeviceURICache sizes the queue name to device URI cache.
func WithDeviceURICache(size int, ttl time.Duration) Option {
	return func(o *Oracle) {
		if size > 0 {
			o.uris = expirable.NewLRU[string, string](size, nil, ttl)
		}
	}
}

func New(devices DeviceSource, hardware HardwareQuerier, opts ...Option) *Oracle {
	o := &Oracle{
		devices:  devices,
		hardware: hardware,
		uris:     expirable.NewLRU[string, string](32, nil, 10*time.Minute),
		slow:     2 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// IsOffline reports whether name should be treated as offline. Any failure to
// answer counts as offline.
func (o *Oracle) IsOffline(ctx context.Context, name string) bool {
	_, offline := o.check(ctx, name)
	return offline
}

// Status answers both questions from a single queue read and a single hardware
// read. A printer that reads offline is never idle.
func (o *Oracle) Status(ctx context.Context, name string) (offline, idle bool) {
	props, offline := o.check(ctx, name)
	if offline {
		return true, false
	}
	return false, props.StatusCode() == model.HardwareIdle
}

func (o *Oracle) check(ctx context.Context, name string) (backend.Properties, bool) {
	dev, err := o.device(ctx, name)
	if err != nil {
		if errors.Is(err, cupsclient.ErrPrinterNotFound) {
			log.Printf("[status] %s: unknown to the spooler", name)
		} else {
			log.Printf("[status] %s: queue query failed, assuming offline: %v", name, err)
		}
		return nil, true
	}
	if reason := queueOfflineReason(dev); reason != "" {
		log.Printf("[status] %s: queue reports %s", name, reason)
		return nil, true
	}
	props, err := o.Hardware(ctx, name)
	if err != nil {
		log.Printf("[status] %s: hardware query failed, assuming offline: %v", name, err)
		return nil, true
	}
	if props.WorkOffline() {
		log.Printf("[status] %s: hardware reports work-offline", name)
		return props, true
	}
	if props.StatusCode() == model.HardwareOffline {
		log.Printf("[status] %s: hardware status code %d (offline)", name, model.HardwareOffline)
		return props, true
	}
	return props, false
}

// IsHardwareIdle reports whether the device behind name reads idle. Every other
// reading, and any failure, is not idle.
func (o *Oracle) IsHardwareIdle(ctx context.Context, name string) bool {
	props, err := o.Hardware(ctx, name)
	if err != nil {
		log.Printf("[status] %s: hardware query failed, assuming busy: %v", name, err)
		return false
	}
	return props.StatusCode() == model.HardwareIdle
}

// Hardware returns the raw management properties for name.
func (o *Oracle) Hardware(ctx context.Context, name string) (backend.Properties, error) {
	uri, err := o.deviceURI(ctx, name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	props, err := o.hardware.Query(ctx, name, uri)
	o.noteSlow("hardware", name, start)
	return props, err
}

func (o *Oracle) device(ctx context.Context, name string) (model.PrinterDevice, error) {
	start := time.Now()
	dev, err := o.devices.Current(ctx, name)
	o.noteSlow("queue", name, start)
	if err == nil && dev.DeviceURI != "" {
		o.uris.Add(name, dev.DeviceURI)
	}
	return dev, err
}

func (o *Oracle) deviceURI(ctx context.Context, name string) (string, error) {
	if uri, ok := o.uris.Get(name); ok {
		return uri, nil
	}
	dev, err := o.device(ctx, name)
	if err != nil {
		return "", err
	}
	return dev.DeviceURI, nil
}

func (o *Oracle) noteSlow(kind, name string, start time.Time) {
	if d := time.Since(start); d > o.slow {
		log.Printf("[status] slow %s query for %s: %s", kind, name, d.Round(time.Millisecond))
	}
}

func queueOfflineReason(dev model.PrinterDevice) string {
	for _, r := range dev.StateReasons {
		if r == "offline" || strings.HasPrefix(r, "offline-") {
			return r
		}
		if strings.HasSuffix(r, "-error") {
			return r
		}
	}
	if !dev.IsOnline {
		return "stopped"
	}
	return ""
}
