package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	goipp "github.com/OpenPrinting/goipp"

	"kioskprint/internal/cupsclient"
)

// ErrorKind tells a caller whether asking the same device again can help.
type ErrorKind string

const (
	ErrorUnsupported ErrorKind = "unsupported"
	ErrorTemporary   ErrorKind = "temporary"
	ErrorPermanent   ErrorKind = "permanent"
)

// Error is a failed hardware query against one device.
type Error struct {
	Kind ErrorKind
	Op   string
	URI  string
	Err  error
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
	case e.Op == "":
		return msg
	case e.URI != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.URI, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var ErrUnsupported error = &Error{Kind: ErrorUnsupported, Op: "backend", Err: errors.New("query not supported")}

func newError(kind ErrorKind, op, uri string, err error) error {
	if err == nil {
		err = fmt.Errorf("%s query failure", kind)
	}
	return &Error{Kind: kind, Op: op, URI: uri, Err: err}
}

func WrapUnsupported(op, uri string, err error) error {
	return newError(ErrorUnsupported, op, uri, err)
}

func WrapTemporary(op, uri string, err error) error {
	return newError(ErrorTemporary, op, uri, err)
}

func WrapPermanent(op, uri string, err error) error {
	return newError(ErrorPermanent, op, uri, err)
}

// Wrap classifies err. Network failures, timeouts, a busy scheduler and
// server-side HTTP errors are temporary; everything else is permanent.
func Wrap(op, uri string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if temporary(err) {
		return WrapTemporary(op, uri, err)
	}
	return WrapPermanent(op, uri, err)
}

var temporaryText = []string{"timeout", "connection refused", "no route to host", "request timeout"}

func temporary(err error) bool {
	var (
		netErr  net.Error
		httpErr *cupsclient.HTTPError
		ippErr  *cupsclient.StatusError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &netErr):
		return true
	case errors.As(err, &httpErr):
		return httpErr.Temporary()
	case errors.As(err, &ippErr):
		return ippErr.Status == goipp.StatusErrorBusy ||
			ippErr.Status == goipp.StatusErrorServiceUnavailable ||
			ippErr.Status == goipp.StatusErrorTemporary
	}
	lower := strings.ToLower(err.Error())
	for _, s := range temporaryText {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func kindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

func IsUnsupported(err error) bool { return kindOf(err) == ErrorUnsupported }

func IsTemporary(err error) bool { return kindOf(err) == ErrorTemporary }

func IsPermanent(err error) bool { return kindOf(err) == ErrorPermanent }
