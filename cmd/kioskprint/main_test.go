package main

import (
	"errors"
	"testing"

	"kioskprint/internal/model"
	"kioskprint/internal/tracker"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-h", "kiosk.local:631", "-E", "-P", "DS620", "-n", "3", "-strip", "-paper", "4x6", "-nowait", "photo.jpg"})
	if err != nil {
		t.Fatalf("parseArgs error: %v", err)
	}
	if opts.server != "kiosk.local:631" || !opts.encrypt || opts.printer != "DS620" {
		t.Fatalf("unexpected connection options: %+v", opts)
	}
	if opts.copies != 3 || opts.imagesPerPage != 2 || opts.paper != "4x6" || !opts.noWait || opts.image != "photo.jpg" {
		t.Fatalf("unexpected job options: %+v", opts)
	}

	opts, err = parseArgs([]string{"photo.jpg"})
	if err != nil || opts.copies != 1 || opts.imagesPerPage != 1 || opts.noWait {
		t.Fatalf("defaults = %+v, %v", opts, err)
	}
}

func TestParseArgsRejectsBadInput(t *testing.T) {
	cases := [][]string{
		{},
		{"-n", "0", "a.jpg"},
		{"-ipp", "x", "a.jpg"},
		{"-P"},
		{"-z", "a.jpg"},
		{"a.jpg", "b.jpg"},
	}
	for _, args := range cases {
		if _, err := parseArgs(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestParsePaper(t *testing.T) {
	p, err := parsePaper("4x6")
	if err != nil || p.Name != "4x6" || p.Width != 4 || p.Height != 6 {
		t.Fatalf("parsePaper(4x6) = %+v, %v", p, err)
	}
	p, err = parsePaper("w288h432=6x4in")
	if err != nil || p.Name != "w288h432" || p.Width != 6 || p.Height != 4 {
		t.Fatalf("parsePaper(named) = %+v, %v", p, err)
	}
	if _, err := parsePaper("6by4"); err == nil {
		t.Fatalf("expected error for malformed paper")
	}
}

func TestExitCode(t *testing.T) {
	pre := model.Result{Err: tracker.NewError(tracker.ErrorPrecondition, "load image", "", errors.New("missing"))}
	off := model.Result{Err: tracker.NewError(tracker.ErrorOffline, "preflight", "DS620", errors.New("offline"))}
	other := model.Result{Err: tracker.NewError(tracker.ErrorJobFailed, "monitor", "DS620", errors.New("aborted"))}
	if exitCode(pre) != 2 || exitCode(off) != 3 || exitCode(other) != 1 {
		t.Fatalf("exit codes = %d %d %d", exitCode(pre), exitCode(off), exitCode(other))
	}
}
