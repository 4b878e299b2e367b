package cupsclient

import (
	"bufio"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type clientSettings struct {
	host               string
	port               int
	useTLS             bool
	user               string
	password           string
	insecureSkipVerify bool
}

// clientDirectives are the client.conf keys the kiosk honours, each with the
// environment variable that overrides it.
var clientDirectives = map[string]string{
	"servername":    "CUPS_SERVER",
	"encryption":    "CUPS_ENCRYPTION",
	"user":          "CUPS_USER",
	"validatecerts": "CUPS_VALIDATECERTS",
}

// loadClientSettings resolves the scheduler address the way libcups does: the
// system client.conf, then ~/.cups/client.conf (or CUPS_CLIENT_CONF alone),
// then the environment.
func loadClientSettings() clientSettings {
	values := map[string]string{}
	if override := strings.TrimSpace(os.Getenv("CUPS_CLIENT_CONF")); override != "" {
		readClientConf(override, values)
	} else {
		readClientConf(filepath.Join(systemClientConfDir(), "client.conf"), values)
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			readClientConf(filepath.Join(home, ".cups", "client.conf"), values)
		}
	}
	for key, env := range clientDirectives {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			values[key] = v
		}
	}

	s := clientSettings{password: os.Getenv("CUPS_PASSWORD")}
	s.host, s.port, s.useTLS = parseServer(values["servername"])
	switch strings.ToLower(values["encryption"]) {
	case "never":
		s.useTLS = false
	case "required", "always":
		s.useTLS = true
	}
	if s.host == "" {
		s.host = "localhost"
	}
	if s.port == 0 {
		s.port = defaultIPPPort()
	}
	s.user = values["user"]
	if s.user == "" {
		s.user = defaultUser()
	}
	if v, ok := parseBool(values["validatecerts"]); ok {
		s.insecureSkipVerify = !v
	}
	return s
}

// readClientConf merges the recognised directives of path into values. A
// missing file is not an error.
func readClientConf(path string, values map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.ToLower(fields[0])
		value := strings.Trim(strings.TrimSpace(line[len(fields[0]):]), "\"'")
		if _, known := clientDirectives[key]; known && value != "" {
			values[key] = value
		}
	}
}

// parseServer splits a ServerName value. A scheme of https or ipps selects TLS.
func parseServer(value string) (string, int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", 0, false
	}
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil && u.Hostname() != "" {
			port, _ := strconv.Atoi(u.Port())
			scheme := strings.ToLower(u.Scheme)
			return u.Hostname(), port, scheme == "https" || scheme == "ipps"
		}
	}
	if host, portStr, err := net.SplitHostPort(value); err == nil {
		if n, err := strconv.Atoi(portStr); err == nil {
			return host, n, false
		}
	}
	return value, 0, false
}

func defaultIPPPort() int {
	if n, err := strconv.Atoi(os.Getenv("IPP_PORT")); err == nil && n > 0 {
		return n
	}
	return 631
}

func defaultUser() string {
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "kiosk"
}

func systemClientConfDir() string {
	if v := os.Getenv("CUPS_SERVERROOT"); v != "" {
		return v
	}
	return "/etc/cups"
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "yes", "on", "true":
		return true, true
	case "0", "no", "off", "false":
		return false, true
	}
	return false, false
}
