package backend

import (
	"context"
	"errors"
	"strings"
	"time"

	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

// QueueReader is the part of the spooler client the queue fallback reads.
type QueueReader interface {
	PrinterState(ctx context.Context, name string) (cupsclient.QueueState, error)
}

// Prober routes a hardware query to the backend serving the queue's device URI.
// Queues whose device has no management surface of its own (usb, file, ...) are
// answered from the spooler's printer-state.
type Prober struct {
	Queue     QueueReader
	Community string
	Timeout   time.Duration
}

func (p *Prober) target(name, deviceURI string) Target {
	return Target{Name: name, DeviceURI: deviceURI, Community: p.Community, Timeout: p.Timeout}
}

// Query returns the hardware properties of the device behind queue name.
func (p *Prober) Query(ctx context.Context, name, deviceURI string) (Properties, error) {
	t := p.target(name, deviceURI)
	if b := ForURI(deviceURI); b != nil {
		props, err := b.QueryStatus(ctx, t)
		if err == nil || !IsUnsupported(err) {
			return props, err
		}
	}
	return p.queueStatus(ctx, t)
}

func (p *Prober) queueStatus(ctx context.Context, t Target) (Properties, error) {
	if p.Queue == nil {
		return nil, WrapUnsupported("queue-status", t.Name, errors.New("no queue reader"))
	}
	q, err := p.Queue.PrinterState(ctx, t.Name)
	if err != nil {
		if errors.Is(err, cupsclient.ErrPrinterNotFound) {
			return nil, WrapPermanent("queue-status", t.Name, err)
		}
		return nil, Wrap("queue-status", t.Name, err)
	}
	return QueueProperties(q), nil
}

// QueueProperties expresses a queue's printer-state in hardware property form.
func QueueProperties(q cupsclient.QueueState) Properties {
	props := Properties{PropSource: "queue"}
	props.setStatus(hardwareFromPrinterState(q.State))
	if len(q.Reasons) > 0 {
		props["state-reasons"] = strings.Join(q.Reasons, ",")
	}
	if q.Message != "" {
		props["state-message"] = q.Message
	}
	if hasOfflineReason(q.Reasons) {
		props[PropWorkOffline] = "true"
		props.setStatus(model.HardwareOffline)
	}
	return props
}

// Supplies queries consumable levels through the device's backend.
func (p *Prober) Supplies(ctx context.Context, name, deviceURI string) (SupplyStatus, error) {
	b := ForURI(deviceURI)
	if b == nil {
		return SupplyStatus{State: model.SupplyUnknown}, WrapUnsupported("supplies", deviceURI, ErrUnsupported)
	}
	return b.QuerySupplies(ctx, p.target(name, deviceURI))
}
