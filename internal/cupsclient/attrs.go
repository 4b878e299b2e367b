package cupsclient

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	goipp "github.com/OpenPrinting/goipp"
)

var requestID atomic.Uint32

func init() {
	requestID.Store(uint32(time.Now().UnixNano()))
}

// StatusError is an IPP response with a non-successful status code.
type StatusError struct {
	Op      goipp.Op
	Status  goipp.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (c *Client) newRequest(op goipp.Op) *goipp.Message {
	req := goipp.NewRequest(goipp.DefaultVersion, op, requestID.Add(1))
	req.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	req.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en-US")))
	return req
}

func (c *Client) addUser(req *goipp.Message) {
	if c.User != "" {
		req.Operation.Add(goipp.MakeAttribute("requesting-user-name", goipp.TagName, goipp.String(c.User)))
	}
}

func requestedAttributes(names ...string) goipp.Attribute {
	attr := goipp.Attribute{Name: "requested-attributes"}
	for _, n := range names {
		attr.Values.Add(goipp.TagKeyword, goipp.String(n))
	}
	return attr
}

func checkStatus(op goipp.Op, resp *goipp.Message) error {
	if resp == nil {
		return &StatusError{Op: op, Status: goipp.StatusErrorInternal}
	}
	status := goipp.Status(resp.Code)
	if status >= goipp.StatusRedirectionOtherSite {
		return &StatusError{Op: op, Status: status, Message: attrString(resp.Operation, "status-message")}
	}
	return nil
}

func findAttr(attrs goipp.Attributes, name string) *goipp.Attribute {
	for i := range attrs {
		if strings.EqualFold(attrs[i].Name, name) {
			return &attrs[i]
		}
	}
	return nil
}

func attrString(attrs goipp.Attributes, name string) string {
	a := findAttr(attrs, name)
	if a == nil || len(a.Values) == 0 {
		return ""
	}
	return strings.TrimSpace(a.Values[0].V.String())
}

func attrStrings(attrs goipp.Attributes, name string) []string {
	a := findAttr(attrs, name)
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Values))
	for _, v := range a.Values {
		if s := strings.TrimSpace(v.V.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func attrInt(attrs goipp.Attributes, name string) int {
	a := findAttr(attrs, name)
	if a == nil || len(a.Values) == 0 {
		return 0
	}
	switch v := a.Values[0].V.(type) {
	case goipp.Integer:
		return int(v)
	case goipp.Range:
		return v.Upper
	}
	return 0
}

func attrInts(attrs goipp.Attributes, name string) []int {
	a := findAttr(attrs, name)
	if a == nil {
		return nil
	}
	out := make([]int, 0, len(a.Values))
	for _, v := range a.Values {
		if n, ok := v.V.(goipp.Integer); ok {
			out = append(out, int(n))
		}
	}
	return out
}

func attrBool(attrs goipp.Attributes, name string) bool {
	a := findAttr(attrs, name)
	if a == nil || len(a.Values) == 0 {
		return false
	}
	b, ok := a.Values[0].V.(goipp.Boolean)
	return ok && bool(b)
}

func collectionInt(col goipp.Collection, name string) int {
	for _, attr := range col {
		if attr.Name != name || len(attr.Values) == 0 {
			continue
		}
		if v, ok := attr.Values[0].V.(goipp.Integer); ok {
			return int(v)
		}
	}
	return 0
}

func collectionString(col goipp.Collection, name string) string {
	for _, attr := range col {
		if attr.Name == name && len(attr.Values) > 0 {
			return strings.TrimSpace(attr.Values[0].V.String())
		}
	}
	return ""
}

func collectionCollection(col goipp.Collection, name string) (goipp.Collection, bool) {
	for _, attr := range col {
		if attr.Name != name || len(attr.Values) == 0 {
			continue
		}
		if c, ok := attr.Values[0].V.(goipp.Collection); ok {
			return c, true
		}
	}
	return goipp.Collection{}, false
}

func groupsByTag(resp *goipp.Message, tag goipp.Tag) []goipp.Attributes {
	var out []goipp.Attributes
	for _, g := range resp.Groups {
		if g.Tag == tag {
			out = append(out, g.Attrs)
		}
	}
	return out
}
