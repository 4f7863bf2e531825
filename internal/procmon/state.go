package procmon

// Presence is the debounce state of one watched command pattern.
type Presence int

const (
	// Absent means no matching process has been seen yet. The monitor
	// never alerts from this state: a process that never started is not
	// a process that went away.
	Absent Presence = iota
	Present
	Draining
)

var presenceNames = map[Presence]string{
	Absent:   "absent",
	Present:  "present",
	Draining: "draining",
}

func (p Presence) String() string {
	if s, ok := presenceNames[p]; ok {
		return s
	}
	return "unknown"
}
