package logging

import (
	"strconv"
	"strings"
	"time"
)

type PageLogEntry struct {
	SessionID string
	Printer   string
	JobID     int
	Pages     int
	Copies    int
	Outcome   string
	Elapsed   time.Duration
	Time      time.Time
}

// PageLogLine formats one finished print session:
// printer session job [time] pages copies outcome elapsed-seconds
func PageLogLine(e PageLogEntry) string {
	printer := strings.TrimSpace(e.Printer)
	if printer == "" {
		printer = "-"
	}
	session := strings.TrimSpace(e.SessionID)
	if session == "" {
		session = "-"
	}
	job := "-"
	if e.JobID > 0 {
		job = strconv.Itoa(e.JobID)
	}
	if e.Copies <= 0 {
		e.Copies = 1
	}
	outcome := strings.TrimSpace(e.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	when := e.Time
	if when.IsZero() {
		when = time.Now()
	}
	return strings.Join([]string{
		printer,
		session,
		job,
		"[" + when.Format("02/Jan/2006:15:04:05 -0700") + "]",
		strconv.Itoa(e.Pages),
		strconv.Itoa(e.Copies),
		outcome,
		strconv.FormatFloat(e.Elapsed.Seconds(), 'f', 1, 64),
	}, " ")
}
