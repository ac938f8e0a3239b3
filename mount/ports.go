package mount

import (
	"sort"

	"github.com/cockroachdb/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial device that can be passed to Open.
type PortInfo struct {
	Path         string `json:"path"`
	USB          bool   `json:"usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts enumerates the serial devices present on this host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating serial ports")
	}
	return portInfos(details), nil
}

// portInfos drops entries without a device path and sorts by path.
func portInfos(details []*enumerator.PortDetails) []PortInfo {
	out := []PortInfo{}
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		out = append(out, PortInfo{
			Path:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
