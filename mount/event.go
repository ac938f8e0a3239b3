package mount

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is a single decoded device message. The concrete types below are
// the only implementations.
type Event interface {
	// Kind returns a short stable name for logging and metrics.
	Kind() string
	isEvent()
}

// PositionReport is sent in reply to POS? and while the mount is moving.
type PositionReport struct {
	Position int
}

// RotationCount is the number of full turns since the mount was homed.
type RotationCount struct {
	Rotations float64
}

// SaveConfirmed acknowledges a SAVE command. The slot is not echoed.
type SaveConfirmed struct {
	Position int
}

// LimitStatus reports both limit switches as the device words them.
type LimitStatus struct {
	Start, End string
}

// ListEntry is one line of a LIST response.
type ListEntry struct {
	Slot     int
	Position int
	// Empty is set when the device has nothing stored for Slot.
	Empty bool
}

type MovingStarted struct{}

type MovingFinished struct{}

// Unrecognized carries any line that did not match a known pattern.
type Unrecognized struct {
	Raw string
}

func (PositionReport) Kind() string { return "position" }
func (RotationCount) Kind() string  { return "rotations" }
func (SaveConfirmed) Kind() string  { return "save_confirmed" }
func (LimitStatus) Kind() string    { return "limits" }
func (ListEntry) Kind() string      { return "list_entry" }
func (MovingStarted) Kind() string  { return "moving_started" }
func (MovingFinished) Kind() string { return "moving_finished" }
func (Unrecognized) Kind() string   { return "unrecognized" }

func (PositionReport) isEvent() {}
func (RotationCount) isEvent()  {}
func (SaveConfirmed) isEvent()  {}
func (LimitStatus) isEvent()    {}
func (ListEntry) isEvent()      {}
func (MovingStarted) isEvent()  {}
func (MovingFinished) isEvent() {}
func (Unrecognized) isEvent()   {}

const (
	positionPrefix  = "POS:"
	rotationsPrefix = "Total Rotations:"
	movingToken     = "Moving to position:"
	reachedToken    = "Successfully reached position:"
	emptyValue      = "EMPTY"
)

var (
	savedRE = regexp.MustCompile(`^Saved at position:\s*(-?\d+)`)
	startRE = regexp.MustCompile(`START:[ \t]*(\w*)`)
	endRE   = regexp.MustCompile(`END:[ \t]*(\w*)`)
	listRE  = regexp.MustCompile(`^POS\s+(\d+):\s*(.+)$`)
)

// Decode turns one line of device output into an Event. It never fails;
// anything it cannot make sense of comes back as Unrecognized.
func Decode(line string) Event {
	input := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(input, positionPrefix):
		pos, err := strconv.Atoi(strings.TrimSpace(input[len(positionPrefix):]))
		if err != nil {
			return Unrecognized{Raw: line}
		}
		return PositionReport{Position: pos}
	case strings.HasPrefix(input, rotationsPrefix):
		f, err := strconv.ParseFloat(strings.TrimSpace(input[len(rotationsPrefix):]), 64)
		if err != nil {
			return Unrecognized{Raw: line}
		}
		return RotationCount{Rotations: f}
	}
	if m := savedRE.FindStringSubmatch(input); m != nil {
		pos, err := strconv.Atoi(m[1])
		if err != nil {
			// Out of int range.
			return Unrecognized{Raw: line}
		}
		return SaveConfirmed{Position: pos}
	}
	if strings.Contains(input, "START:") && strings.Contains(input, "END:") {
		return LimitStatus{
			Start: limitWord(startRE, input),
			End:   limitWord(endRE, input),
		}
	}
	if m := listRE.FindStringSubmatch(input); m != nil {
		return decodeListEntry(line, m[1], strings.TrimSpace(m[2]))
	}
	switch {
	case strings.Contains(input, movingToken):
		return MovingStarted{}
	case strings.Contains(input, reachedToken):
		return MovingFinished{}
	}
	return Unrecognized{Raw: line}
}

// limitWord returns the word after a limit token, or "" when the token is
// directly followed by the next "NAME:" token.
func limitWord(re *regexp.Regexp, input string) string {
	m := re.FindStringSubmatchIndex(input)
	if m == nil {
		return ""
	}
	if m[3] < len(input) && input[m[3]] == ':' {
		return ""
	}
	return input[m[2]:m[3]]
}

func decodeListEntry(line, slot, value string) Event {
	i, err := strconv.Atoi(slot)
	if err != nil {
		return Unrecognized{Raw: line}
	}
	if value == emptyValue {
		return ListEntry{Slot: i, Empty: true}
	}
	pos, err := strconv.Atoi(value)
	if err != nil {
		return Unrecognized{Raw: line}
	}
	return ListEntry{Slot: i, Position: pos}
}
