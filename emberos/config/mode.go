package config

import "fmt"

// Mode selects how persistent state survives a power loss.
type Mode uint8

const (
	// ModeNormal journals transactions; bounded loops restart from their
	// start bound after every reboot.
	ModeNormal Mode = iota
	// ModeIdempotent journals transactions and resumes bounded loops from
	// their persistent progress counter.
	ModeIdempotent
	// ModeDurableBaseline writes persistent objects in place with no
	// journal. Nothing is atomic; used as a measurement baseline.
	ModeDurableBaseline
	// ModeSRAMBaseline keeps all state in volatile memory; it is lost on
	// every reboot.
	ModeSRAMBaseline
)

var modeNames = [...]string{
	ModeNormal:          "normal",
	ModeIdempotent:      "idempotent",
	ModeDurableBaseline: "durable-baseline",
	ModeSRAMBaseline:    "sram-baseline",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Journaled reports whether writes go through the journal.
func (m Mode) Journaled() bool { return m != ModeDurableBaseline }

// ResumesLoops reports whether loop progress counters are honoured.
func (m Mode) ResumesLoops() bool { return m != ModeNormal }

// Volatile reports whether the store is rebuilt on every boot.
func (m Mode) Volatile() bool { return m == ModeSRAMBaseline }

// ParseMode parses a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeNormal, ModeIdempotent, ModeDurableBaseline, ModeSRAMBaseline}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
