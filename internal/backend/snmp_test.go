package backend

import (
	"testing"

	"github.com/gosnmp/gosnmp"

	"kioskprint/internal/model"
)

func TestSNMPStatusPropertiesIdle(t *testing.T) {
	props := snmpStatusProperties([]gosnmp.SnmpPDU{
		{Name: oidHrPrinterStatus, Type: gosnmp.Integer, Value: 3},
		{Name: oidHrDeviceStatus, Type: gosnmp.Integer, Value: 2},
		{Name: oidHrPrinterErrorState, Type: gosnmp.OctetString, Value: []byte{0x00, 0x00}},
		{Name: oidSysName, Type: gosnmp.OctetString, Value: []byte("ds620")},
	})
	if props.StatusCode() != model.HardwareIdle || props.WorkOffline() {
		t.Fatalf("props = %v", props)
	}
	if props["sys-name"] != "ds620" {
		t.Fatalf("sys-name = %q", props["sys-name"])
	}
}

func TestSNMPStatusPropertiesOfflineBit(t *testing.T) {
	props := snmpStatusProperties([]gosnmp.SnmpPDU{
		{Name: oidHrPrinterStatus, Type: gosnmp.Integer, Value: 3},
		{Name: oidHrPrinterErrorState, Type: gosnmp.OctetString, Value: []byte{0x42}},
	})
	if !props.WorkOffline() || props.StatusCode() != model.HardwareOffline {
		t.Fatalf("props = %v", props)
	}
	if props["detected-errors"] != "offline,no-paper" {
		t.Fatalf("detected-errors = %q", props["detected-errors"])
	}
}

func TestSNMPStatusPropertiesDeviceDown(t *testing.T) {
	props := snmpStatusProperties([]gosnmp.SnmpPDU{
		{Name: oidHrPrinterStatus, Type: gosnmp.Integer, Value: 4},
		{Name: oidHrDeviceStatus, Type: gosnmp.Integer, Value: 5},
	})
	if props.StatusCode() != model.HardwareOffline {
		t.Fatalf("device down should read offline, got %v", props)
	}
	if props.WorkOffline() {
		t.Fatalf("work-offline flag should only come from the error state bit")
	}
}

func TestSupplyLevelsFromWalk(t *testing.T) {
	levels := supplyLevelsFromWalk("marker",
		map[string]any{"1": []byte("Ribbon YMCO"), "2": "Paper roll"},
		map[string]any{"1": 400, "2": -2},
		map[string]any{"2": -3, "1": 100},
	)
	if len(levels) != 2 || levels[0].Index != "1" {
		t.Fatalf("levels = %+v", levels)
	}
	if levels[0].Name != "Ribbon YMCO" || levels[0].Percent() != 25 {
		t.Fatalf("first level = %+v (%d%%)", levels[0], levels[0].Percent())
	}
	if levels[1].Percent() != -1 {
		t.Fatalf("unknown capacity should have no percentage")
	}
	if got := supplyState(levels, DefaultLowPercent); got != model.SupplyOK {
		t.Fatalf("supplyState = %q", got)
	}
}

func TestSNMPTargetFromPrinterURI(t *testing.T) {
	tests := []struct {
		uri, host, port string
	}{
		{"socket://192.168.1.40:9100", "192.168.1.40", "161"},
		{"snmp://printer.local:1161", "printer.local", "1161"},
		{"lpd://10.0.0.2/queue?snmp-host=10.0.0.3", "10.0.0.3", "161"},
		{"usb://DNP/DS620", "DNP", "161"},
		{"", "", ""},
	}
	for _, tc := range tests {
		host, port := snmpTargetFromPrinterURI(tc.uri)
		if host != tc.host || port != tc.port {
			t.Fatalf("snmpTargetFromPrinterURI(%q) = %q %q", tc.uri, host, port)
		}
	}
}
