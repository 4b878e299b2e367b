package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	goipp "github.com/OpenPrinting/goipp"

	"kioskprint/internal/model"
)

// ippBackend asks an IPP device directly for its printer attributes, bypassing
// the spooler's cached view of the queue.
type ippBackend struct{}

func init() {
	Register(ippBackend{})
}

var ippRequestID atomic.Uint32

func (ippBackend) Schemes() []string {
	return []string{"ipp", "ipps"}
}

func (ippBackend) QueryStatus(ctx context.Context, t Target) (Properties, error) {
	resp, err := getDeviceAttributes(ctx, t,
		"printer-state", "printer-state-reasons", "printer-state-message", "printer-is-accepting-jobs")
	if err != nil {
		return nil, err
	}
	return ippStatusProperties(resp.Printer), nil
}

func ippStatusProperties(attrs goipp.Attributes) Properties {
	props := Properties{PropSource: "ipp"}
	state := 0
	var reasons []string
	for _, a := range attrs {
		if len(a.Values) == 0 {
			continue
		}
		switch a.Name {
		case "printer-state":
			if n, ok := a.Values[0].V.(goipp.Integer); ok {
				state = int(n)
			}
		case "printer-state-reasons":
			for _, v := range a.Values {
				if r := strings.ToLower(strings.TrimSpace(v.V.String())); r != "" && r != "none" {
					reasons = append(reasons, r)
				}
			}
		case "printer-state-message":
			if msg := strings.TrimSpace(a.Values[0].V.String()); msg != "" {
				props["state-message"] = msg
			}
		}
	}
	props.setStatus(hardwareFromPrinterState(state))
	if len(reasons) > 0 {
		props["state-reasons"] = strings.Join(reasons, ",")
	}
	if hasOfflineReason(reasons) {
		props[PropWorkOffline] = "true"
		props.setStatus(model.HardwareOffline)
	}
	return props
}

func hardwareFromPrinterState(state int) int {
	switch state {
	case model.PrinterIdle:
		return model.HardwareIdle
	case model.PrinterProcessing:
		return model.HardwarePrinting
	case model.PrinterStopped:
		return model.HardwareStopped
	}
	return model.HardwareUnknown
}

func hasOfflineReason(reasons []string) bool {
	for _, r := range reasons {
		if r == "offline" || strings.HasPrefix(r, "offline-") {
			return true
		}
	}
	return false
}

func (ippBackend) QuerySupplies(ctx context.Context, t Target) (SupplyStatus, error) {
	resp, err := getDeviceAttributes(ctx, t, "marker-names", "marker-levels", "marker-high-levels", "marker-types")
	if err != nil {
		return SupplyStatus{State: model.SupplyUnknown}, err
	}
	var names, types []string
	var levels, highs []int
	for _, a := range resp.Printer {
		for _, v := range a.Values {
			switch a.Name {
			case "marker-names":
				names = append(names, v.V.String())
			case "marker-types":
				types = append(types, v.V.String())
			case "marker-levels":
				if n, ok := v.V.(goipp.Integer); ok {
					levels = append(levels, int(n))
				}
			case "marker-high-levels":
				if n, ok := v.V.(goipp.Integer); ok {
					highs = append(highs, int(n))
				}
			}
		}
	}
	out := SupplyStatus{Details: map[string]string{}}
	for i, lvl := range levels {
		l := SupplyLevel{Index: strconv.Itoa(i + 1), Kind: "marker", Level: lvl, Max: 100}
		if i < len(names) {
			l.Name = names[i]
		}
		if i < len(highs) && highs[i] > 0 {
			l.Max = highs[i]
		}
		if i < len(types) {
			out.Details["marker."+l.Index+".type"] = types[i]
		}
		out.Levels = append(out.Levels, l)
	}
	out.State = supplyState(out.Levels, DefaultLowPercent)
	return out, nil
}

func getDeviceAttributes(ctx context.Context, t Target, requested ...string) (*goipp.Message, error) {
	httpURL, err := ippTransportURL(t.DeviceURI)
	if err != nil {
		return nil, WrapUnsupported("ipp-status", t.DeviceURI, err)
	}
	req := goipp.NewRequest(goipp.DefaultVersion, goipp.OpGetPrinterAttributes, ippRequestID.Add(1))
	req.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	req.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en-US")))
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(t.DeviceURI)))
	if len(requested) > 0 {
		vals := make([]goipp.Value, 0, len(requested))
		for _, r := range requested {
			vals = append(vals, goipp.String(r))
		}
		req.Operation.Add(goipp.MakeAttr("requested-attributes", goipp.TagKeyword, vals[0], vals[1:]...))
	}
	payload, err := req.EncodeBytes()
	if err != nil {
		return nil, WrapPermanent("ipp-status", t.DeviceURI, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapPermanent("ipp-status", t.DeviceURI, err)
	}
	httpReq.Header.Set("Content-Type", goipp.ContentType)
	httpReq.Header.Set("Accept", goipp.ContentType)

	client := &http.Client{Transport: ippTransport(t.DeviceURI)}
	resp, err := client.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, Wrap("ipp-status", t.DeviceURI, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, WrapTemporary("ipp-status", t.DeviceURI, errors.New(resp.Status))
	}
	ippResp := &goipp.Message{}
	if err := ippResp.Decode(resp.Body); err != nil {
		return nil, WrapTemporary("ipp-status", t.DeviceURI, err)
	}
	if status := goipp.Status(ippResp.Code); status >= goipp.StatusRedirectionOtherSite {
		return nil, WrapPermanent("ipp-status", t.DeviceURI, fmt.Errorf("%s", status))
	}
	return ippResp, nil
}

// ippTransportURL maps ipp://host/path to the HTTP URL it is carried on.
func ippTransportURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ipp":
		u.Scheme = "http"
	case "ipps":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.New("missing host")
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "631")
	}
	return u.String(), nil
}

func ippTransport(uri string) *http.Transport {
	u, _ := url.Parse(uri)
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	// Printers ship self-signed certificates.
	if u != nil && strings.EqualFold(u.Scheme, "ipps") {
		tlsConfig.InsecureSkipVerify = true
	}
	return &http.Transport{TLSClientConfig: tlsConfig}
}
