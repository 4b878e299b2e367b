package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"kioskprint/internal/config"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/logging"
	"kioskprint/internal/model"
	"kioskprint/internal/printing"
	"kioskprint/internal/tracker"
)

type options struct {
	server        string
	encrypt       bool
	printer       string
	paper         string
	copies        int
	imagesPerPage int
	noWait        bool
	image         string
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fail(err)
	}
	os.Exit(printImage(opts))
}

// printImage returns the process exit code so deferred cleanup runs first.
func printImage(opts options) int {
	cfg := config.Load()
	if opts.printer != "" {
		cfg.Printer = opts.printer
	}
	logging.Configure(cfg.ErrorLogPath, cfg.PageLogPath, cfg.MaxLogSize, cfg.LogLevel)
	log.SetOutput(logging.ErrorWriter())
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := printing.Job{
		ImagePath:     opts.image,
		Copies:        opts.copies,
		ImagesPerPage: opts.imagesPerPage,
		Wait:          !opts.noWait,
	}
	if opts.paper != "" {
		paper, err := parsePaper(opts.paper)
		if err != nil {
			fmt.Fprintln(os.Stderr, "kioskprint:", err)
			return 1
		}
		job.Paper = paper
	}

	rt, err := printing.Wire(ctx, cfg,
		cupsclient.WithServer(opts.server),
		cupsclient.WithTLS(opts.encrypt),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kioskprint:", err)
		return 1
	}
	defer rt.Close()

	res := rt.Service.Print(ctx, job)
	report(res)
	if res.Succeeded() {
		return 0
	}
	return exitCode(res)
}

func parseArgs(args []string) (options, error) {
	opts := options{copies: 1, imagesPerPage: 1}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-P", "-d":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for %s", arg)
			}
			i++
			opts.printer = args[i]
		case "-n":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -n")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return opts, fmt.Errorf("invalid copies %q", args[i])
			}
			opts.copies = n
		case "-ipp", "-strip":
			if arg == "-strip" {
				opts.imagesPerPage = 2
				continue
			}
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -ipp")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return opts, fmt.Errorf("invalid images per page %q", args[i])
			}
			opts.imagesPerPage = n
		case "-paper":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -paper")
			}
			i++
			opts.paper = args[i]
		case "-h":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -h")
			}
			i++
			opts.server = args[i]
		case "-E":
			opts.encrypt = true
		case "-nowait":
			opts.noWait = true
		case "-help", "--help":
			usage()
			os.Exit(0)
		default:
			if strings.HasPrefix(arg, "-") {
				return opts, fmt.Errorf("unknown option %s", arg)
			}
			if opts.image != "" {
				return opts, fmt.Errorf("only one image can be printed at a time")
			}
			opts.image = arg
		}
	}
	if opts.image == "" {
		return opts, fmt.Errorf("no image given")
	}
	return opts, nil
}

// parsePaper accepts "4x6" style inch sizes with an optional "name=" prefix.
func parsePaper(value string) (model.PaperSize, error) {
	name := ""
	dims := value
	if i := strings.Index(value, "="); i >= 0 {
		name, dims = value[:i], value[i+1:]
	}
	parts := strings.Split(strings.TrimSuffix(strings.ToLower(dims), "in"), "x")
	if len(parts) != 2 {
		return model.PaperSize{}, fmt.Errorf("invalid paper %q", value)
	}
	w, err1 := strconv.ParseFloat(parts[0], 64)
	h, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return model.PaperSize{}, fmt.Errorf("invalid paper %q", value)
	}
	if name == "" {
		name = dims
	}
	return model.PaperSize{Name: name, Width: w, Height: h}, nil
}

func report(res model.Result) {
	s := res.Session
	job := "-"
	if s.TrackedJobID > 0 {
		job = strconv.Itoa(s.TrackedJobID)
	}
	fmt.Printf("session %s: %s (%s)\n", s.ID, res.Outcome, res.State)
	fmt.Printf("  printer: %s  job: %s  pages: %d\n", valueOr(s.PrinterName, "-"), job, s.TotalPagesNeeded)
	fmt.Printf("  elapsed: %s", res.Elapsed.Round(time.Second))
	if !s.SubmittedAt.IsZero() {
		fmt.Printf("  submitted %s", humanize.Time(s.SubmittedAt))
	}
	fmt.Println()
	if res.Reason != "" {
		fmt.Printf("  reason: %s\n", res.Reason)
	}
}

func exitCode(res model.Result) int {
	switch {
	case tracker.IsPrecondition(res.Err):
		return 2
	case tracker.IsOffline(res.Err):
		return 3
	default:
		return 1
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kioskprint [-h server] [-E] [-P printer] [-n copies] [-ipp n | -strip] [-paper WxH] [-nowait] image")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "kioskprint:", err)
	os.Exit(1)
}
