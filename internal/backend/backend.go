package backend

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kioskprint/internal/model"
)

// Properties is the free-form property set a hardware status query returns. Only
// PropStatusCode and PropWorkOffline are structural; everything else is driver
// specific diagnostic text.
type Properties map[string]string

const (
	PropStatusCode  = "status-code"
	PropWorkOffline = "work-offline"
	PropSource      = "source"
)

// StatusCode returns the normalised hardware status code, or model.HardwareUnknown
// when the property is missing or malformed.
func (p Properties) StatusCode() int {
	n, err := strconv.Atoi(strings.TrimSpace(p[PropStatusCode]))
	if err != nil || n < model.HardwareOther || n > model.HardwareOffline {
		return model.HardwareUnknown
	}
	return n
}

func (p Properties) WorkOffline() bool {
	switch strings.ToLower(strings.TrimSpace(p[PropWorkOffline])) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Properties) setStatus(code int) {
	p[PropStatusCode] = strconv.Itoa(code)
}

// Target identifies the device behind a queue.
type Target struct {
	Name      string
	DeviceURI string
	Community string
	Timeout   time.Duration
}

func (t Target) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 2 * time.Second
}

type Device struct {
	URI      string
	Info     string
	Make     string
	Class    string
	Location string
}

type SupplyLevel struct {
	Index string
	Name  string
	Kind  string
	Level int
	Max   int
}

// Percent returns the remaining percentage, or -1 when the device does not report
// a usable level or capacity.
func (s SupplyLevel) Percent() int {
	if s.Max <= 0 || s.Level < 0 {
		return -1
	}
	p := s.Level * 100 / s.Max
	if p > 100 {
		p = 100
	}
	return p
}

type SupplyStatus struct {
	State   string
	Levels  []SupplyLevel
	Details map[string]string
}

// Backend answers management queries for the device URI schemes it serves.
type Backend interface {
	Schemes() []string
	QueryStatus(ctx context.Context, t Target) (Properties, error)
	QuerySupplies(ctx context.Context, t Target) (SupplyStatus, error)
}

var registry struct {
	sync.RWMutex
	backends []Backend
}

func Register(b Backend) {
	if b == nil {
		return
	}
	registry.Lock()
	registry.backends = append(registry.backends, b)
	registry.Unlock()
}

func ForURI(uri string) Backend {
	u, err := url.Parse(uri)
	if err != nil {
		return nil
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil
	}
	registry.RLock()
	defer registry.RUnlock()
	for _, b := range registry.backends {
		for _, s := range b.Schemes() {
			if strings.EqualFold(s, scheme) {
				return b
			}
		}
	}
	return nil
}

// DefaultLowPercent is the remaining percentage at or below which a supply is low.
const DefaultLowPercent = 10

func supplyState(levels []SupplyLevel, lowPercent int) string {
	if len(levels) == 0 {
		return model.SupplyUnknown
	}
	lowest := 101
	for _, l := range levels {
		if p := l.Percent(); p >= 0 && p < lowest {
			lowest = p
		}
	}
	switch {
	case lowest == 101:
		return model.SupplyUnknown
	case lowest == 0:
		return model.SupplyOut
	case lowest <= lowPercent:
		return model.SupplyLow
	}
	return model.SupplyOK
}

func uniqueDevices(devices []Device) []Device {
	seen := map[string]bool{}
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		key := strings.ToLower(strings.TrimSpace(d.URI))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}
