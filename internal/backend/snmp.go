package backend

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"kioskprint/internal/model"
)

const defaultSNMPPort = "161"

const (
	oidSysName             = ".1.3.6.1.2.1.1.5.0"
	oidSysDescr            = ".1.3.6.1.2.1.1.1.0"
	oidHrDeviceStatus      = ".1.3.6.1.2.1.25.3.2.1.5.1"
	oidHrPrinterStatus     = ".1.3.6.1.2.1.25.3.5.1.1.1"
	oidHrPrinterErrorState = ".1.3.6.1.2.1.25.3.5.1.2.1"
	oidMarkerSuppliesDescr = ".1.3.6.1.2.1.43.11.1.1.6.1"
	oidMarkerSuppliesMax   = ".1.3.6.1.2.1.43.11.1.1.8.1"
	oidMarkerSuppliesLevel = ".1.3.6.1.2.1.43.11.1.1.9.1"
	oidInputMaxCapacity    = ".1.3.6.1.2.1.43.8.2.1.9.1"
	oidInputCurrentLevel   = ".1.3.6.1.2.1.43.8.2.1.10.1"
	oidInputName           = ".1.3.6.1.2.1.43.8.2.1.13.1"
)

const hrDeviceDown = 5

// hrPrinterDetectedErrorState, first octet.
const (
	hrErrorOffline  byte = 0x02
	hrErrorJammed   byte = 0x04
	hrErrorDoorOpen byte = 0x08
	hrErrorNoPaper  byte = 0x40
	hrErrorLowPaper byte = 0x80
)

// snmpBackend reads Host Resources and Printer MIB values from network devices.
// socket:// and lpd:// queues are queried on the same host.
type snmpBackend struct{}

func init() {
	Register(snmpBackend{})
}

func (snmpBackend) Schemes() []string {
	return []string{"snmp", "socket", "lpd"}
}

func (snmpBackend) QueryStatus(ctx context.Context, t Target) (Properties, error) {
	host, port := snmpTargetFromPrinterURI(t.DeviceURI)
	if host == "" {
		return nil, WrapUnsupported("snmp-status", t.DeviceURI, ErrUnsupported)
	}
	params := newSNMPParams(ctx, host, port, t.Community, t.timeout())
	if err := params.Connect(); err != nil {
		return nil, Wrap("snmp-status", t.DeviceURI, err)
	}
	defer params.Conn.Close()

	result, err := params.Get([]string{oidHrPrinterStatus, oidHrDeviceStatus, oidHrPrinterErrorState, oidSysName})
	if err != nil {
		return nil, Wrap("snmp-status", t.DeviceURI, err)
	}
	return snmpStatusProperties(result.Variables), nil
}

// snmpStatusProperties folds hrPrinterStatus, hrDeviceStatus and
// hrPrinterDetectedErrorState into a property set.
func snmpStatusProperties(vars []gosnmp.SnmpPDU) Properties {
	props := Properties{PropSource: "snmp"}
	props.setStatus(model.HardwareUnknown)
	offline := false
	deviceDown := false
	var errs []string
	for _, v := range vars {
		switch strings.TrimPrefix(v.Name, ".") {
		case strings.TrimPrefix(oidHrPrinterStatus, "."):
			if n, ok := snmpToInt(v.Value); ok {
				props["hr-printer-status"] = strconv.Itoa(n)
				if n >= model.HardwareOther && n <= model.HardwareWarmup {
					props.setStatus(n)
				}
			}
		case strings.TrimPrefix(oidHrDeviceStatus, "."):
			if n, ok := snmpToInt(v.Value); ok {
				props["hr-device-status"] = strconv.Itoa(n)
				deviceDown = n == hrDeviceDown
			}
		case strings.TrimPrefix(oidHrPrinterErrorState, "."):
			b, ok := v.Value.([]byte)
			if !ok || len(b) == 0 {
				continue
			}
			if b[0]&hrErrorOffline != 0 {
				offline = true
				errs = append(errs, "offline")
			}
			if b[0]&hrErrorNoPaper != 0 {
				errs = append(errs, "no-paper")
			}
			if b[0]&hrErrorLowPaper != 0 {
				errs = append(errs, "low-paper")
			}
			if b[0]&hrErrorJammed != 0 {
				errs = append(errs, "jammed")
			}
			if b[0]&hrErrorDoorOpen != 0 {
				errs = append(errs, "door-open")
			}
		case strings.TrimPrefix(oidSysName, "."):
			if s := snmpString(v.Value); s != "" {
				props["sys-name"] = s
			}
		}
	}
	if len(errs) > 0 {
		props["detected-errors"] = strings.Join(errs, ",")
	}
	if offline {
		props[PropWorkOffline] = "true"
	}
	if deviceDown || offline {
		props.setStatus(model.HardwareOffline)
	}
	return props
}

func (snmpBackend) QuerySupplies(ctx context.Context, t Target) (SupplyStatus, error) {
	host, port := snmpTargetFromPrinterURI(t.DeviceURI)
	if host == "" {
		return SupplyStatus{State: model.SupplyUnknown}, WrapUnsupported("snmp-supplies", t.DeviceURI, ErrUnsupported)
	}
	params := newSNMPParams(ctx, host, port, t.Community, t.timeout())
	if err := params.Connect(); err != nil {
		return SupplyStatus{State: model.SupplyUnknown}, Wrap("snmp-supplies", t.DeviceURI, err)
	}
	defer params.Conn.Close()

	details := map[string]string{}
	if name, _, err := snmpSysInfoWith(params); err == nil && name != "" {
		details["sysName"] = name
	}
	walk := func(base string) map[string]any {
		out := map[string]any{}
		_ = params.BulkWalk(base, func(pdu gosnmp.SnmpPDU) error {
			if idx := snmpIndex(pdu.Name, base); idx != "" {
				out[idx] = pdu.Value
			}
			return nil
		})
		return out
	}
	levels := supplyLevelsFromWalk("marker", walk(oidMarkerSuppliesDescr), walk(oidMarkerSuppliesMax), walk(oidMarkerSuppliesLevel))
	levels = append(levels, supplyLevelsFromWalk("input", walk(oidInputName), walk(oidInputMaxCapacity), walk(oidInputCurrentLevel))...)
	if len(levels) == 0 {
		return SupplyStatus{State: model.SupplyUnknown, Details: details}, nil
	}
	for _, l := range levels {
		key := l.Kind + "." + l.Index
		if l.Name != "" {
			details[key+".desc"] = l.Name
		}
		details[key+".level"] = strconv.Itoa(l.Level)
		details[key+".max"] = strconv.Itoa(l.Max)
		if p := l.Percent(); p >= 0 {
			details[key+".percent"] = strconv.Itoa(p)
		}
	}
	return SupplyStatus{State: supplyState(levels, DefaultLowPercent), Levels: levels, Details: details}, nil
}

func supplyLevelsFromWalk(kind string, names, maxes, levels map[string]any) []SupplyLevel {
	out := make([]SupplyLevel, 0, len(levels))
	for idx, raw := range levels {
		lvl, ok := snmpToInt(raw)
		if !ok {
			continue
		}
		l := SupplyLevel{Index: idx, Kind: kind, Level: lvl, Max: -2}
		if m, ok := snmpToInt(maxes[idx]); ok {
			l.Max = m
		}
		l.Name = snmpString(names[idx])
		out = append(out, l)
	}
	sortLevels(out)
	return out
}

func sortLevels(levels []SupplyLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && indexLess(levels[j].Index, levels[j-1].Index); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

func indexLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func newSNMPParams(ctx context.Context, host, port, community string, timeout time.Duration) *gosnmp.GoSNMP {
	if community == "" {
		community = "public"
	}
	params := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}
	if port != "" && port != defaultSNMPPort {
		if p, err := strconv.Atoi(port); err == nil {
			params.Port = uint16(p)
		}
	}
	return params
}

func snmpSysInfoWith(params *gosnmp.GoSNMP) (string, string, error) {
	result, err := params.Get([]string{oidSysName, oidSysDescr})
	if err != nil {
		return "", "", err
	}
	name, descr := "", ""
	for _, v := range result.Variables {
		switch v.Name {
		case oidSysName:
			name = snmpString(v.Value)
		case oidSysDescr:
			descr = snmpString(v.Value)
		}
	}
	return name, descr, nil
}

func snmpTargetFromPrinterURI(rawURI string) (string, string) {
	rawURI = strings.TrimSpace(rawURI)
	if rawURI == "" {
		return "", ""
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", ""
	}
	query := u.Query()
	host := strings.TrimSpace(query.Get("snmp-host"))
	if host == "" {
		host = strings.TrimSpace(u.Hostname())
	}
	port := strings.TrimSpace(query.Get("snmp-port"))
	if port == "" && strings.EqualFold(u.Scheme, "snmp") {
		port = strings.TrimSpace(u.Port())
	}
	if port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			port = ""
		}
	}
	if port == "" {
		port = defaultSNMPPort
	}
	return host, port
}

func snmpIndex(name, base string) string {
	name = "." + strings.TrimPrefix(name, ".")
	if strings.HasPrefix(name, base+".") {
		return strings.TrimPrefix(name, base+".")
	}
	return ""
}

func snmpString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(strings.TrimRight(string(v), "\x00"))
	}
	return ""
}

func snmpToInt(val any) (int, bool) {
	if val == nil {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint:
		return int(v), true
	case uint64:
		return int(v), true
	case uint32:
		return int(v), true
	case string, []byte:
		return 0, false
	}
	if bi := gosnmp.ToBigInt(val); bi != nil {
		return int(bi.Int64()), true
	}
	return 0, false
}
