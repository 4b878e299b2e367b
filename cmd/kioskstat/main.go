package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
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
	"kioskprint/internal/store"
)

type options struct {
	server  string
	encrypt bool
	printer string
	limit   int
	timeout time.Duration
	command string
}

var commands = []string{"printers", "status", "supplies", "discover", "history"}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fail(err)
	}

	cfg := config.Load()
	if opts.printer != "" {
		cfg.Printer = opts.printer
	}
	logging.Configure(cfg.ErrorLogPath, cfg.PageLogPath, cfg.MaxLogSize, cfg.LogLevel)
	log.SetOutput(logging.ErrorWriter())
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := printing.Wire(ctx, cfg,
		cupsclient.WithServer(opts.server),
		cupsclient.WithTLS(opts.encrypt),
	)
	if err != nil {
		fail(err)
	}
	defer rt.Close()

	if err := run(ctx, rt, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func run(ctx context.Context, rt *printing.Runtime, opts options, w io.Writer) error {
	switch opts.command {
	case "printers":
		return showPrinters(ctx, rt, w)
	case "status":
		return showStatus(ctx, rt, w)
	case "supplies":
		return showSupplies(ctx, rt, w)
	case "discover":
		return showDiscovered(ctx, rt, opts.timeout, w)
	case "history":
		return showHistory(ctx, rt, opts.limit, w)
	}
	return fmt.Errorf("unknown command %q", opts.command)
}

func parseArgs(args []string) (options, error) {
	opts := options{limit: 20, timeout: 3 * time.Second}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -h")
			}
			i++
			opts.server = args[i]
		case "-E":
			opts.encrypt = true
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
				return opts, fmt.Errorf("invalid limit %q", args[i])
			}
			opts.limit = n
		case "-t":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing argument for -t")
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil || d <= 0 {
				return opts, fmt.Errorf("invalid timeout %q", args[i])
			}
			opts.timeout = d
		default:
			if strings.HasPrefix(arg, "-") {
				return opts, fmt.Errorf("unknown option %s", arg)
			}
			if opts.command != "" {
				return opts, fmt.Errorf("unexpected argument %s", arg)
			}
			opts.command = arg
		}
	}
	if opts.command == "" {
		opts.command = "status"
	}
	for _, c := range commands {
		if c == opts.command {
			return opts, nil
		}
	}
	return opts, fmt.Errorf("unknown command %q (want one of %s)", opts.command, strings.Join(commands, ", "))
}

func showPrinters(ctx context.Context, rt *printing.Runtime, w io.Writer) error {
	devices, err := rt.Registry.Enumerate(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "no printers")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		state := "offline"
		if d.IsOnline {
			state = "online"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, d.Name, state, valueOr(d.MakeModel, "-"), valueOr(d.DeviceURI, "-"))
	}
	return nil
}

func showStatus(ctx context.Context, rt *printing.Runtime, w io.Writer) error {
	name, err := rt.Registry.ResolvePrinter(ctx)
	if err != nil {
		return err
	}
	dev, err := rt.Registry.Device(ctx, name)
	if err != nil {
		return err
	}
	offline, idle := rt.Oracle.Status(ctx, name)
	fmt.Fprintf(w, "printer %s: %s\n", name, valueOr(dev.Status, "unknown"))
	fmt.Fprintf(w, "  offline: %v  hardware idle: %v\n", offline, idle)
	if len(dev.StateReasons) > 0 {
		fmt.Fprintf(w, "  reasons: %s\n", strings.Join(dev.StateReasons, ", "))
	}
	props, err := rt.Oracle.Hardware(ctx, name)
	if err != nil {
		fmt.Fprintf(w, "  hardware: %v\n", err)
	} else {
		for _, k := range props.Keys() {
			fmt.Fprintf(w, "  %s: %s\n", k, props[k])
		}
	}
	fmt.Fprintf(w, "  spool %s\n", rt.Spool.Describe())
	return nil
}

func showSupplies(ctx context.Context, rt *printing.Runtime, w io.Writer) error {
	info, err := rt.Service.CheckSupplies(ctx, "")
	if err != nil {
		return err
	}
	printSupply(w, info)
	return nil
}

func printSupply(w io.Writer, info model.RollCapacityInfo) {
	fmt.Fprintf(w, "supply: %s (source %s)\n", info.Status, info.Source)
	if info.RemainingPercentage != nil {
		fmt.Fprintf(w, "  remaining: %d%%\n", *info.RemainingPercentage)
	}
	if info.RemainingPrints != nil {
		line := fmt.Sprintf("  prints left: %d", *info.RemainingPrints)
		if info.MaxCapacity != nil {
			line += fmt.Sprintf(" of %d", *info.MaxCapacity)
		}
		fmt.Fprintln(w, line)
	}
	for _, k := range sortedKeys(info.Details) {
		fmt.Fprintf(w, "  %s: %s\n", k, info.Details[k])
	}
}

func showDiscovered(ctx context.Context, rt *printing.Runtime, timeout time.Duration, w io.Writer) error {
	found := rt.Registry.Discover(ctx, timeout)
	if len(found) == 0 {
		fmt.Fprintln(w, "no printers found")
		return nil
	}
	for _, d := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.URI, valueOr(d.Info, "-"), valueOr(d.Make, "-"))
	}
	return nil
}

func showHistory(ctx context.Context, rt *printing.Runtime, limit int, w io.Writer) error {
	if rt.Journal == nil {
		return errors.New("journal is disabled")
	}
	printer := rt.Config.Printer
	var (
		recs   []store.SessionRecord
		counts []store.OutcomeCount
		supply model.RollCapacityInfo
		hasSup bool
	)
	err := rt.Journal.WithTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if recs, err = rt.Journal.ListSessions(ctx, tx, printer, limit); err != nil {
			return err
		}
		if counts, err = rt.Journal.CountOutcomes(ctx, tx, printer, time.Now().Add(-24*time.Hour)); err != nil {
			return err
		}
		if printer != "" {
			supply, hasSup, err = rt.Journal.LatestSupplySnapshot(ctx, tx, printer)
		}
		return err
	})
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s  %-8s job %-5s %d page(s) x%d  %-24s %s  %s\n",
			humanize.Time(r.FinishedAt), r.Printer, jobLabel(r.JobID), r.Pages, r.Copies,
			r.Outcome, r.Elapsed.Round(time.Second), r.State)
	}
	if len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, c := range counts {
			parts = append(parts, fmt.Sprintf("%s=%s", c.Outcome, humanize.Comma(int64(c.Count))))
		}
		fmt.Fprintf(w, "last 24h: %s\n", strings.Join(parts, " "))
	}
	if hasSup {
		fmt.Fprintf(w, "last supply reading %s:\n", humanize.Time(supply.CheckedAt))
		printSupply(w, supply)
	}
	return nil
}

func jobLabel(id int) string {
	if id <= 0 {
		return "-"
	}
	return strconv.Itoa(id)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "kioskstat:", err)
	os.Exit(1)
}
