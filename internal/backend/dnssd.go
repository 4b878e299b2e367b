package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

var printerServices = []string{"_ipp._tcp", "_ipps._tcp", "_pdl-datastream._tcp"}

// dnssdBackend resolves dnssd:// device URIs and forwards the query to the
// backend of the resolved ipp/socket URI.
type dnssdBackend struct{}

func init() {
	Register(dnssdBackend{})
}

func (dnssdBackend) Schemes() []string {
	return []string{"dnssd"}
}

func (dnssdBackend) QueryStatus(ctx context.Context, t Target) (Properties, error) {
	resolved, b, err := resolveDNSSDBackend(ctx, t)
	if err != nil {
		return nil, err
	}
	return b.QueryStatus(ctx, resolved)
}

func (dnssdBackend) QuerySupplies(ctx context.Context, t Target) (SupplyStatus, error) {
	resolved, b, err := resolveDNSSDBackend(ctx, t)
	if err != nil {
		return SupplyStatus{State: "unknown"}, err
	}
	return b.QuerySupplies(ctx, resolved)
}

func resolveDNSSDBackend(ctx context.Context, t Target) (Target, Backend, error) {
	target, err := resolveDNSSDTarget(ctx, t.DeviceURI, t.timeout())
	if err != nil {
		return t, nil, classifyDNSSDResolveError("dnssd-resolve", t.DeviceURI, err)
	}
	b := ForURI(target)
	if b == nil {
		return t, nil, WrapUnsupported("dnssd-resolve", target, ErrUnsupported)
	}
	t.DeviceURI = target
	return t, b, nil
}

func classifyDNSSDResolveError(op, uri string, err error) error {
	var urlErr *url.Error
	switch {
	case errors.As(err, &urlErr), strings.Contains(err.Error(), "invalid dnssd uri"),
		strings.Contains(err.Error(), "empty dnssd uri"), strings.Contains(err.Error(), "unsupported"):
		return WrapUnsupported(op, uri, err)
	}
	return WrapTemporary(op, uri, err)
}

// Discover browses the local network for printers. It returns what was found
// when timeout elapses or ctx is done.
func Discover(ctx context.Context, timeout time.Duration) []Device {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var devices []Device
	for _, service := range printerServices {
		if ctx.Err() != nil {
			break
		}
		entries := make(chan *mdns.ServiceEntry, 64)
		qctx, cancel := context.WithTimeout(ctx, timeout)
		go func() {
			_ = mdns.Query(&mdns.QueryParam{
				Service: service,
				Domain:  "local",
				Timeout: timeout,
				Entries: entries,
			})
			close(entries)
		}()
		devices = append(devices, collectEntries(qctx, service, entries)...)
		cancel()
	}
	return uniqueDevices(devices)
}

func collectEntries(ctx context.Context, service string, entries <-chan *mdns.ServiceEntry) []Device {
	var out []Device
	for {
		select {
		case <-ctx.Done():
			return out
		case entry, ok := <-entries:
			if !ok {
				return out
			}
			if d, ok := deviceFromEntry(service, entry); ok {
				out = append(out, d)
			}
		}
	}
}

func deviceFromEntry(service string, entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil || entry.Port == 0 {
		return Device{}, false
	}
	uri := dnssdEntryURI(service, entry)
	if uri == "" {
		return Device{}, false
	}
	txt := parseTxtRecords(entry.InfoFields)
	return Device{
		URI:      uri,
		Info:     firstNonEmpty(txt["ty"], txt["note"], instanceName(entry.Name, service)),
		Make:     firstNonEmpty(txt["product"], txt["ty"], "IPP"),
		Class:    "network",
		Location: txt["note"],
	}, true
}

func instanceName(full, service string) string {
	if i := strings.Index(full, "."+service); i > 0 {
		return strings.ReplaceAll(full[:i], `\ `, " ")
	}
	return full
}

func parseTxtRecords(records []string) map[string]string {
	out := map[string]string{}
	for _, record := range records {
		key, val, ok := strings.Cut(strings.TrimSpace(record), "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			out[strings.ToLower(key)] = strings.TrimSpace(val)
		}
	}
	return out
}

func buildIPPURI(service, host string, port int, txt map[string]string) string {
	scheme := "ipp"
	if strings.Contains(service, "ipps") {
		scheme = "ipps"
	}
	resource := strings.TrimPrefix(txt["rp"], "/")
	if resource == "" {
		resource = "ipp/print"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/" + resource
}

func resolveDNSSDTarget(ctx context.Context, uri string, timeout time.Duration) (string, error) {
	instance, service, domain, err := parseDNSSDURI(uri)
	if err != nil {
		return "", err
	}
	if service == "" {
		return "", errors.New("unsupported dnssd service")
	}
	if domain == "" {
		domain = "local"
	}
	entries := make(chan *mdns.ServiceEntry, 64)
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		_ = mdns.Query(&mdns.QueryParam{
			Service: service,
			Domain:  domain,
			Timeout: timeout,
			Entries: entries,
		})
		close(entries)
	}()
	var chosen *mdns.ServiceEntry
	for {
		select {
		case <-qctx.Done():
			if chosen == nil {
				return "", fmt.Errorf("dnssd resolution timeout")
			}
			return dnssdEntryURI(service, chosen), nil
		case entry, ok := <-entries:
			if !ok {
				if chosen == nil {
					return "", fmt.Errorf("dnssd resolution failed")
				}
				return dnssdEntryURI(service, chosen), nil
			}
			if entry == nil {
				continue
			}
			if instance != "" && !strings.EqualFold(instanceName(entry.Name, service), instance) {
				continue
			}
			chosen = entry
			if instance != "" {
				return dnssdEntryURI(service, chosen), nil
			}
		}
	}
}

func parseDNSSDURI(uri string) (string, string, string, error) {
	if uri == "" {
		return "", "", "", errors.New("empty dnssd uri")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", err
	}
	host := strings.TrimPrefix(strings.TrimSpace(u.Host), "//")
	if host == "" {
		return "", "", "", errors.New("invalid dnssd uri")
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host, _ = url.PathUnescape(host)
	host = strings.TrimSuffix(host, ".")
	lower := strings.ToLower(host)
	for _, svc := range printerServices {
		if idx := strings.Index(lower, svc); idx >= 0 {
			instance := strings.TrimSuffix(host[:idx], ".")
			domain := strings.TrimPrefix(host[idx+len(svc):], ".")
			return instance, svc, domain, nil
		}
	}
	return host, "", "", nil
}

func dnssdEntryURI(service string, entry *mdns.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	host := ""
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		host = strings.TrimSuffix(entry.Host, ".")
	}
	if host == "" {
		return ""
	}
	if strings.Contains(service, "_pdl-datastream") {
		port := entry.Port
		if port == 0 {
			port = 9100
		}
		return "socket://" + net.JoinHostPort(host, strconv.Itoa(port))
	}
	return buildIPPURI(service, host, entry.Port, parseTxtRecords(entry.InfoFields))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
