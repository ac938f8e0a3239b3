package mount

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial/enumerator"
)

func TestPortInfos(t *testing.T) {
	got := portInfos([]*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI", Product: "FT232R"},
		nil,
		{Name: ""},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyS0"},
	})
	want := []PortInfo{
		{Path: "/dev/ttyACM0", USB: true, VID: "2341", PID: "0043"},
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyUSB0", USB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI", Product: "FT232R"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("portInfos (-want +got):\n%s", diff)
	}
}

func TestPortInfosEmpty(t *testing.T) {
	if got := portInfos(nil); got == nil || len(got) != 0 {
		t.Errorf("portInfos(nil) = %#v, want empty non-nil slice", got)
	}
}
