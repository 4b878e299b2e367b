package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataDir  string
	ConfDir  string
	DBPath   string
	SpoolDir string

	Printer string

	MaxLogSize   int64
	LogLevel     string
	ErrorLogPath string
	PageLogPath  string

	PaperName          string
	PaperWidth         float64
	PaperHeight        float64
	PaperTolerance     float64
	ConfusableMarkers  []string
	DPI                int
	StripTopOffset     float64
	PaperCacheTTL      time.Duration
	DeviceURICacheSize int

	StatusFreshness time.Duration

	QueuePollInterval     time.Duration
	HardwarePollInterval  time.Duration
	FirstPageSeconds      int
	AdditionalPageSeconds int
	MinimumWaitFraction   float64
	MinimumWaitFloor      int
	MaximumWaitBuffer     int
	AbsoluteMaximumWait   time.Duration
	OfflineDebounce       int
	DiscoveryGracePolls   int
	SlowQueryThreshold    time.Duration

	SNMPCommunity string
	SNMPTimeout   time.Duration

	SupplyLowPercent int

	JournalEnabled bool
}

type configOverrides struct {
	dataDirLocked bool
	confDirLocked bool
	dbPath        bool
	spoolDir      bool
}

func Default() Config {
	dataDir := filepath.Join("data")
	return Config{
		DataDir:               dataDir,
		ConfDir:               filepath.Join(dataDir, "conf"),
		DBPath:                filepath.Join(dataDir, "kioskprint.db"),
		SpoolDir:              filepath.Join(dataDir, "spool"),
		LogLevel:              "info",
		ErrorLogPath:          "stderr",
		PaperName:             "4x6",
		PaperWidth:            6,
		PaperHeight:           4,
		PaperTolerance:        0.2,
		ConfusableMarkers:     []string{"x2", "2up", "strip", "split", "panorama"},
		DPI:                   300,
		StripTopOffset:        12,
		PaperCacheTTL:         10 * time.Minute,
		DeviceURICacheSize:    32,
		StatusFreshness:       5 * time.Second,
		QueuePollInterval:     time.Second,
		HardwarePollInterval:  2 * time.Second,
		FirstPageSeconds:      18,
		AdditionalPageSeconds: 12,
		MinimumWaitFraction:   0.6,
		MinimumWaitFloor:      10,
		MaximumWaitBuffer:     10,
		AbsoluteMaximumWait:   300 * time.Second,
		OfflineDebounce:       5,
		DiscoveryGracePolls:   3,
		SlowQueryThreshold:    2 * time.Second,
		SNMPCommunity:         "public",
		SNMPTimeout:           2 * time.Second,
		SupplyLowPercent:      10,
		JournalEnabled:        true,
	}
}

func Load() Config {
	overrides := configOverrides{}
	cfg := Default()
	cfg.DataDir = getenv("KIOSK_DATA_DIR", cfg.DataDir)
	cfg.ConfDir = getenv("KIOSK_CONF_DIR", filepath.Join(cfg.DataDir, "conf"))

	markEnvOverrides(&overrides)
	applyKioskConf(&cfg, &overrides)
	applyEnvOverrides(&cfg, &overrides)
	applyDerivedDefaults(&cfg, &overrides)
	return cfg
}

func markEnvOverrides(overrides *configOverrides) {
	if overrides == nil {
		return
	}
	if _, ok := os.LookupEnv("KIOSK_DATA_DIR"); ok {
		overrides.dataDirLocked = true
	}
	if _, ok := os.LookupEnv("KIOSK_CONF_DIR"); ok {
		overrides.confDirLocked = true
	}
	if _, ok := os.LookupEnv("KIOSK_DB_PATH"); ok {
		overrides.dbPath = true
	}
	if _, ok := os.LookupEnv("KIOSK_SPOOL_DIR"); ok {
		overrides.spoolDir = true
	}
}

func applyEnvOverrides(cfg *Config, overrides *configOverrides) {
	if cfg == nil {
		return
	}
	if v, ok := os.LookupEnv("KIOSK_DB_PATH"); ok {
		cfg.DBPath = v
		if overrides != nil {
			overrides.dbPath = true
		}
	}
	if v, ok := os.LookupEnv("KIOSK_SPOOL_DIR"); ok {
		cfg.SpoolDir = v
		if overrides != nil {
			overrides.spoolDir = true
		}
	}
	if v := os.Getenv("KIOSK_PRINTER"); v != "" {
		cfg.Printer = v
	} else if v := os.Getenv("PRINTER"); v != "" && cfg.Printer == "" {
		cfg.Printer = v
	}
	cfg.ErrorLogPath = getenv("KIOSK_ERROR_LOG", cfg.ErrorLogPath)
	cfg.PageLogPath = getenv("KIOSK_PAGE_LOG", cfg.PageLogPath)
	cfg.SNMPCommunity = getenv("KIOSK_SNMP_COMMUNITY", cfg.SNMPCommunity)
	cfg.JournalEnabled = getenvBool("KIOSK_JOURNAL", cfg.JournalEnabled)
	if v, ok := os.LookupEnv("KIOSK_MAX_WAIT"); ok {
		if d, ok := parseDuration(v); ok {
			cfg.AbsoluteMaximumWait = d
		}
	}
	if v, ok := os.LookupEnv("KIOSK_DPI"); ok {
		if n, ok := parseInt(v); ok && n > 0 {
			cfg.DPI = n
		}
	}
}

func applyDerivedDefaults(cfg *Config, overrides *configOverrides) {
	if cfg == nil {
		return
	}
	if overrides == nil || !overrides.dbPath {
		cfg.DBPath = filepath.Join(cfg.DataDir, "kioskprint.db")
	}
	if overrides == nil || !overrides.spoolDir {
		cfg.SpoolDir = filepath.Join(cfg.DataDir, "spool")
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.OfflineDebounce < 1 {
		cfg.OfflineDebounce = 1
	}
}

func applyKioskConf(cfg *Config, overrides *configOverrides) {
	if cfg == nil {
		return
	}
	parseKioskConf(filepath.Join(cfg.ConfDir, "kiosk.conf"), cfg, overrides)
}

func parseKioskConf(path string, cfg *Config, overrides *configOverrides) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := parts[0]
		value := strings.Trim(strings.TrimSpace(line[len(key):]), "\"")
		switch strings.ToLower(key) {
		case "datadir":
			if overrides != nil && overrides.dataDirLocked {
				continue
			}
			cfg.DataDir = value
		case "printer":
			cfg.Printer = value
		case "errorlog":
			cfg.ErrorLogPath = resolvePath(cfg.DataDir, value)
		case "pagelog":
			cfg.PageLogPath = resolvePath(cfg.DataDir, value)
		case "maxlogsize":
			if v, ok := parseSize(value); ok {
				cfg.MaxLogSize = v
			}
		case "loglevel":
			cfg.LogLevel = value
		case "paper":
			name, w, h, ok := parsePaper(value)
			if ok {
				cfg.PaperName, cfg.PaperWidth, cfg.PaperHeight = name, w, h
			}
		case "papertolerance":
			if v, ok := parseFloat(value); ok && v >= 0 {
				cfg.PaperTolerance = v
			}
		case "confusablemarkers":
			cfg.ConfusableMarkers = splitList(value)
		case "dpi":
			if n, ok := parseInt(value); ok && n > 0 {
				cfg.DPI = n
			}
		case "striptopoffset":
			if v, ok := parseFloat(value); ok && v >= 0 {
				cfg.StripTopOffset = v
			}
		case "statusfreshness":
			if d, ok := parseDuration(value); ok {
				cfg.StatusFreshness = d
			}
		case "queuepollinterval":
			if d, ok := parseDuration(value); ok {
				cfg.QueuePollInterval = d
			}
		case "hardwarepollinterval":
			if d, ok := parseDuration(value); ok {
				cfg.HardwarePollInterval = d
			}
		case "firstpageseconds":
			if n, ok := parseTimeSeconds(value); ok {
				cfg.FirstPageSeconds = n
			}
		case "additionalpageseconds":
			if n, ok := parseTimeSeconds(value); ok {
				cfg.AdditionalPageSeconds = n
			}
		case "minimumwaitfraction":
			if v, ok := parseFloat(value); ok && v > 0 && v <= 1 {
				cfg.MinimumWaitFraction = v
			}
		case "minimumwaitfloor":
			if n, ok := parseTimeSeconds(value); ok {
				cfg.MinimumWaitFloor = n
			}
		case "maximumwaitbuffer":
			if n, ok := parseTimeSeconds(value); ok {
				cfg.MaximumWaitBuffer = n
			}
		case "absolutemaximumwait":
			if d, ok := parseDuration(value); ok {
				cfg.AbsoluteMaximumWait = d
			}
		case "offlinedebounce":
			if n, ok := parseInt(value); ok {
				cfg.OfflineDebounce = n
			}
		case "discoverygracepolls":
			if n, ok := parseInt(value); ok && n >= 0 {
				cfg.DiscoveryGracePolls = n
			}
		case "journal":
			if v, ok := parseBool(value); ok {
				cfg.JournalEnabled = v
			}
		case "snmpcommunity":
			cfg.SNMPCommunity = value
		case "snmptimeout":
			if d, ok := parseDuration(value); ok {
				cfg.SNMPTimeout = d
			}
		case "supplylowpercent":
			if n, ok := parseInt(value); ok && n >= 0 && n <= 100 {
				cfg.SupplyLowPercent = n
			}
		}
	}
}

// parsePaper accepts "4x6", "6x4" or "Name 6x4".
func parsePaper(value string) (string, float64, float64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return "", 0, 0, false
	}
	dims := fields[len(fields)-1]
	name := strings.Join(fields[:len(fields)-1], " ")
	w, h, ok := parseDimensions(dims)
	if !ok {
		return "", 0, 0, false
	}
	if name == "" {
		name = dims
	}
	if h > w {
		w, h = h, w
	}
	return name, w, h, true
}

func parseDimensions(value string) (float64, float64, bool) {
	v := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), "in")
	a, b, ok := strings.Cut(v, "x")
	if !ok {
		return 0, 0, false
	}
	w, ok1 := parseFloat(a)
	h, ok2 := parseFloat(b)
	if !ok1 || !ok2 || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func resolvePath(root, value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "stderr", "stdout", "none", "off", "-":
		return value
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(root, value)
}

func splitList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func parseSize(value string) (int64, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, false
	}
	mult := int64(1)
	last := v[len(v)-1]
	switch last {
	case 'k', 'K':
		mult = 1024
		v = v[:len(v)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		v = v[:len(v)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		v = v[:len(v)-1]
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || num < 0 {
		return 0, false
	}
	return int64(num * float64(mult)), true
}

func parseInt(value string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloat(value string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseTimeSeconds(value string) (int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, false
	}
	mult := 1
	last := v[len(v)-1]
	switch last {
	case 's', 'S':
		v = v[:len(v)-1]
	case 'm', 'M':
		mult = 60
		v = v[:len(v)-1]
	case 'h', 'H':
		mult = 60 * 60
		v = v[:len(v)-1]
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n * mult, true
}

// parseDuration accepts Go durations ("1500ms") and bare or suffixed seconds ("2", "5m").
func parseDuration(value string) (time.Duration, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, ok := parseTimeSeconds(v); ok && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v, ok := parseBool(os.Getenv(key)); ok {
		return v
	}
	return fallback
}
