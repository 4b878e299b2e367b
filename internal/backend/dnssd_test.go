package backend

import (
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestClassifyDNSSDResolveError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{name: "invalid uri", err: errors.New("invalid dnssd uri"), want: IsUnsupported},
		{name: "empty uri", err: errors.New("empty dnssd uri"), want: IsUnsupported},
		{name: "unsupported service", err: errors.New("unsupported dnssd service"), want: IsUnsupported},
		{name: "url parse", err: &url.Error{Op: "parse", URL: "dnssd://", Err: errors.New("bad uri")}, want: IsUnsupported},
		{name: "timeout", err: errors.New("dnssd resolution timeout"), want: IsTemporary},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyDNSSDResolveError("dnssd-resolve", "dnssd://x", tc.err); !tc.want(got) {
				t.Fatalf("classifyDNSSDResolveError(%v) = %v", tc.err, got)
			}
		})
	}
}

func TestParseDNSSDURI(t *testing.T) {
	instance, service, domain, err := parseDNSSDURI("dnssd://Photo%20Kiosk._ipp._tcp.local/")
	if err != nil {
		t.Fatalf("parseDNSSDURI(valid) error: %v", err)
	}
	if instance != "Photo Kiosk" || service != "_ipp._tcp" || domain != "local" {
		t.Fatalf("parseDNSSDURI(valid) = %q %q %q", instance, service, domain)
	}
	if _, _, _, err := parseDNSSDURI("dnssd://"); err == nil {
		t.Fatal("parseDNSSDURI(empty host) expected error")
	}
}

func TestDeviceFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       `DS620\ Kiosk._ipp._tcp.local.`,
		Host:       "ds620.local.",
		AddrV4:     net.ParseIP("192.168.1.40"),
		Port:       631,
		InfoFields: []string{"rp=ipp/print", "ty=DNP DS620", "note=Lobby"},
	}
	d, ok := deviceFromEntry("_ipp._tcp", entry)
	if !ok {
		t.Fatalf("expected entry to produce a device")
	}
	if d.URI != "ipp://192.168.1.40:631/ipp/print" || d.Info != "DNP DS620" || d.Location != "Lobby" {
		t.Fatalf("device = %+v", d)
	}

	raw := &mdns.ServiceEntry{Name: "raw._pdl-datastream._tcp.local.", AddrV4: net.ParseIP("10.0.0.7"), Port: 9100}
	d, ok = deviceFromEntry("_pdl-datastream._tcp", raw)
	if !ok || d.URI != "socket://10.0.0.7:9100" || d.Info != "raw" {
		t.Fatalf("raw device = %+v ok=%v", d, ok)
	}

	if _, ok := deviceFromEntry("_ipp._tcp", &mdns.ServiceEntry{Name: "x"}); ok {
		t.Fatalf("entry without port should be skipped")
	}
}

func TestUniqueDevicesDropsDuplicates(t *testing.T) {
	got := uniqueDevices([]Device{{URI: "ipp://a/ipp/print"}, {URI: "IPP://A/ipp/print"}, {URI: ""}, {URI: "socket://b"}})
	if len(got) != 2 {
		t.Fatalf("uniqueDevices = %+v", got)
	}
}
