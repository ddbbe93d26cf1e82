package actuator

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB vendor IDs of boards known to run the servo firmware.
var knownVendors = map[string]string{
	"2341": "Arduino",
	"1A86": "CH340",
	"0403": "FTDI",
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts enumerates the host's serial ports.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// Vendor returns the board family for a known USB vendor ID.
func (p PortInfo) Vendor() (string, bool) {
	if !p.IsUSB {
		return "", false
	}
	name, ok := knownVendors[strings.ToUpper(p.VID)]
	return name, ok
}

// LikelyActuator reports whether the port looks like a servo controller board.
func LikelyActuator(p PortInfo) bool {
	_, ok := p.Vendor()
	return ok
}
