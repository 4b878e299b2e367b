package cupsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goipp "github.com/OpenPrinting/goipp"
)

func TestSendUsesCUPSLikeResourcePathByOperation(t *testing.T) {
	pathCh := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pathCh <- r.URL.Path

		w.Header().Set("Content-Type", goipp.ContentType)
		resp := goipp.NewResponse(req.Version, goipp.StatusOk, req.RequestID)
		_ = resp.Encode(w)
	}))
	defer srv.Close()

	parsed, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	client := NewFromConfig(WithServer(parsed.Host))

	tests := []struct {
		op         goipp.Op
		printerURI string
		jobURI     string
		wantPath   string
	}{
		{op: goipp.OpCancelJobs, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/admin/"},
		{op: goipp.OpPurgeJobs, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/admin/"},
		{op: goipp.OpGetJobs, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/jobs/"},
		{op: goipp.OpGetJobAttributes, jobURI: "ipp://localhost/jobs/7", wantPath: "/jobs/"},
		{op: goipp.OpGetPrinterAttributes, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/"},
		{op: goipp.OpCupsGetPrinters, wantPath: "/"},
		{op: goipp.OpCupsGetDefault, wantPath: "/"},
		{op: goipp.OpPrintJob, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/printers/Kiosk"},
		{op: goipp.OpCreateJob, printerURI: "ipp://localhost/printers/Kiosk", wantPath: "/printers/Kiosk"},
		{op: goipp.OpSendDocument, jobURI: "ipp://localhost/jobs/7", wantPath: "/jobs/7"},
		{op: goipp.OpPrintJob, wantPath: "/ipp/print"},
	}

	for _, tc := range tests {
		req := client.newRequest(tc.op)
		if tc.printerURI != "" {
			req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(tc.printerURI)))
		}
		if tc.jobURI != "" {
			req.Operation.Add(goipp.MakeAttribute("job-uri", goipp.TagURI, goipp.String(tc.jobURI)))
		}
		if _, err := client.Send(context.Background(), req, nil); err != nil {
			t.Fatalf("send %v: %v", tc.op, err)
		}
		got := <-pathCh
		if got != tc.wantPath {
			t.Fatalf("op %v path = %q, want %q", tc.op, got, tc.wantPath)
		}
	}
}

func TestSendRetriesReadOnlyOperations(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		_ = goipp.NewResponse(req.Version, goipp.StatusOk, req.RequestID).Encode(w)
	}))
	defer srv.Close()
	parsed, _ := url.Parse(srv.URL)
	client := NewFromConfig(WithServer(parsed.Host), WithRetries(2, time.Millisecond))

	if _, err := client.Send(context.Background(), client.newRequest(goipp.OpGetJobs), nil); err != nil {
		t.Fatalf("GetJobs after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}

	calls.Store(0)
	_, err := client.Send(context.Background(), client.newRequest(goipp.OpPrintJob), strings.NewReader("page"))
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != http.StatusServiceUnavailable || !herr.Temporary() {
		t.Fatalf("PrintJob err = %v, want HTTPError 503", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("PrintJob must not be retried, calls = %d", calls.Load())
	}
}

func TestPrinterURIUsesLocalhostAndEscapesName(t *testing.T) {
	client := NewFromConfig(WithServer("example.com:8631"), WithTLS(true))
	if got := client.PrinterURI(""); got != "ipp://localhost/printers/" {
		t.Fatalf("PrinterURI(empty) = %q", got)
	}
	if got := client.PrinterURI("Photo Kiosk"); got != "ipp://localhost/printers/Photo%20Kiosk" {
		t.Fatalf("PrinterURI(name) = %q", got)
	}
	if client.Port != 8631 || !client.UseTLS {
		t.Fatalf("server option not applied: port=%d tls=%v", client.Port, client.UseTLS)
	}
}

func TestParseServerVariants(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		wantTLS bool
	}{
		{in: "cups.local", host: "cups.local"},
		{in: "cups.local:8631", host: "cups.local", port: 8631},
		{in: "ipps://print.example:443", host: "print.example", port: 443, wantTLS: true},
		{in: "http://127.0.0.1:631", host: "127.0.0.1", port: 631},
	}
	for _, tc := range tests {
		host, port, useTLS := parseServer(tc.in)
		if host != tc.host || port != tc.port || useTLS != tc.wantTLS {
			t.Fatalf("parseServer(%q) = %q %d %v", tc.in, host, port, useTLS)
		}
	}
}

func TestClientConfOverriddenByEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.conf"
	if err := writeFile(path, "ServerName conf.example:9631\nUser confuser\nValidateCerts no\n"); err != nil {
		t.Fatalf("write client.conf: %v", err)
	}
	t.Setenv("CUPS_CLIENT_CONF", path)
	t.Setenv("CUPS_SERVER", "")
	t.Setenv("CUPS_USER", "kiosk")
	t.Setenv("CUPS_ENCRYPTION", "")
	t.Setenv("CUPS_VALIDATECERTS", "")

	s := loadClientSettings()
	if s.host != "conf.example" || s.port != 9631 {
		t.Fatalf("server = %s:%d", s.host, s.port)
	}
	if s.user != "kiosk" {
		t.Fatalf("user = %q, want env override", s.user)
	}
	if !s.insecureSkipVerify {
		t.Fatalf("expected ValidateCerts no to skip verification")
	}
}
