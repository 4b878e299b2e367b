// Package cupsclient talks IPP to the local CUPS scheduler: queue enumeration,
// job submission and tracking, cancellation, media and supply attributes.
package cupsclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	goipp "github.com/OpenPrinting/goipp"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 250 * time.Millisecond
)

// Client is safe for concurrent use once built.
type Client struct {
	Host               string
	Port               int
	UseTLS             bool
	User               string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	// Retries applies to read-only operations that failed before an IPP
	// response arrived.
	Retries    int
	RetryDelay time.Duration

	once sync.Once
	http *http.Client
}

type ClientOption func(*Client)

func WithServer(server string) ClientOption {
	return func(c *Client) {
		host, port, useTLS := parseServer(server)
		if host != "" {
			c.Host = host
		}
		if port > 0 {
			c.Port = port
		}
		c.UseTLS = c.UseTLS || useTLS
	}
}

func WithTLS(enable bool) ClientOption {
	return func(c *Client) { c.UseTLS = c.UseTLS || enable }
}

func WithUser(user string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(user) != "" {
			c.User = user
		}
	}
}

func WithRetries(n int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.Retries = n
		}
		if delay > 0 {
			c.RetryDelay = delay
		}
	}
}

// WithHTTPClient replaces the transport built from the TLS settings.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.once.Do(func() { c.http = hc })
		}
	}
}

// NewFromConfig builds a client from client.conf and the CUPS_* environment,
// then applies opts.
func NewFromConfig(opts ...ClientOption) *Client {
	s := loadClientSettings()
	c := &Client{
		Host:               s.host,
		Port:               s.port,
		UseTLS:             s.useTLS,
		User:               s.user,
		Password:           s.password,
		InsecureSkipVerify: s.insecureSkipVerify,
		Timeout:            defaultTimeout,
		Retries:            defaultRetries,
		RetryDelay:         defaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// PrinterURI is the queue URI as the scheduler names it, independent of the
// address used to reach it.
func (c *Client) PrinterURI(name string) string {
	return "ipp://localhost/printers/" + url.PathEscape(strings.TrimSpace(name))
}

func (c *Client) JobURI(jobID int) string {
	return "ipp://localhost/jobs/" + strconv.Itoa(jobID)
}

func (c *Client) baseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return scheme + "://" + c.Host + ":" + strconv.Itoa(c.Port)
}

func (c *Client) httpClient() *http.Client {
	c.once.Do(func() {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify},
			},
		}
	})
	return c.http
}

// HTTPError is a non-2xx reply from the scheduler's HTTP layer.
type HTTPError struct {
	Op     string
	Code   int
	Status string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %s", e.Op, e.Status)
}

// Temporary reports server-side failures worth retrying later.
func (e *HTTPError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Send posts one IPP request, optionally followed by document data, and
// decodes the response. IPP-level status is left to the caller.
func (c *Client) Send(ctx context.Context, msg *goipp.Message, data io.Reader) (*goipp.Message, error) {
	if msg == nil {
		return nil, errors.New("missing ipp message")
	}
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, err
	}
	op := goipp.Op(msg.Code)
	attempts := 1
	if data == nil && readOnlyOps[op] {
		attempts += max(c.Retries, 0)
	}

	target := c.baseURL() + resourcePath(msg)
	for attempt := 1; ; attempt++ {
		body := io.Reader(bytes.NewReader(payload))
		if data != nil {
			body = io.MultiReader(body, data)
		}
		out, err := c.post(ctx, op, target, body)
		if err == nil || attempt >= attempts || !retryable(err) {
			return out, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (c *Client) post(ctx context.Context, op goipp.Op, target string, body io.Reader) (*goipp.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", goipp.ContentType)
	req.Header.Set("Accept", goipp.ContentType)
	resp, err := c.do(req, op.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out := &goipp.Message{}
	if err := out.Decode(resp.Body); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return out, nil
}

// Get fetches a plain HTTP resource from the server, such as a queue's PPD.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "get "+path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	if c.User != "" && c.Password != "" {
		req.SetBasicAuth(c.User, c.Password)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, &HTTPError{Op: op, Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Temporary()
	}
	return true
}

var readOnlyOps = map[goipp.Op]bool{
	goipp.OpCupsGetPrinters:      true,
	goipp.OpCupsGetDefault:       true,
	goipp.OpGetPrinterAttributes: true,
	goipp.OpGetJobs:              true,
	goipp.OpGetJobAttributes:     true,
}

// fixedPaths mirror where cupsd routes each operation. Operations missing here
// go to the resource named by their printer-uri or job-uri.
var fixedPaths = map[goipp.Op]string{
	goipp.OpCancelJobs:           "/admin/",
	goipp.OpPurgeJobs:            "/admin/",
	goipp.OpGetJobs:              "/jobs/",
	goipp.OpGetJobAttributes:     "/jobs/",
	goipp.OpCupsGetPrinters:      "/",
	goipp.OpCupsGetDefault:       "/",
	goipp.OpGetPrinterAttributes: "/",
}

func resourcePath(msg *goipp.Message) string {
	if p, ok := fixedPaths[goipp.Op(msg.Code)]; ok {
		return p
	}
	for _, name := range []string{"printer-uri", "job-uri"} {
		if p, ok := pathFromURI(attrString(msg.Operation, name)); ok {
			return p
		}
	}
	return "/ipp/print"
}

func pathFromURI(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || strings.TrimSpace(u.Path) == "" {
		return "", false
	}
	return "/" + strings.TrimPrefix(strings.TrimSpace(u.Path), "/"), true
}
