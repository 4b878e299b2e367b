package tracker

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorPrecondition ErrorKind = "precondition"
	ErrorSubmission   ErrorKind = "submission"
	ErrorOffline      ErrorKind = "offline"
	ErrorJobFailed    ErrorKind = "job-failed"
)

// Error is a print session that ended without the job being printed.
type Error struct {
	Kind    ErrorKind
	Op      string
	Printer string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Printer != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Printer, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(kind ErrorKind, op, printer string, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Printer: printer, Err: err}
}

func kindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsPrecondition(err error) bool { return kindOf(err) == ErrorPrecondition }
func IsSubmission(err error) bool   { return kindOf(err) == ErrorSubmission }
func IsOffline(err error) bool      { return kindOf(err) == ErrorOffline }
func IsJobFailed(err error) bool    { return kindOf(err) == ErrorJobFailed }
