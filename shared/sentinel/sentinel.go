// Package sentinel parses and formats the reserved command strings the
// runner supervisor treats as control signals instead of shell input.
package sentinel

import "strings"

const (
	Stop   = "__STOP__"
	Halt   = "__HALT__"
	Escape = "__ESCAPE__"

	inputPrefix = "__INPUT__:"
)

// Kind identifies which control signal a command string carries, if any.
type Kind int

const (
	None Kind = iota
	KindStop
	KindHalt
	KindEscape
	KindInput
)

// String names a Kind for logging and metric labels.
func (k Kind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindHalt:
		return "halt"
	case KindEscape:
		return "escape"
	case KindInput:
		return "input"
	default:
		return "command"
	}
}

// Parse classifies raw and, for __INPUT__, extracts the payload.
func Parse(raw string) (Kind, string) {
	switch raw {
	case Stop:
		return KindStop, ""
	case Halt:
		return KindHalt, ""
	case Escape:
		return KindEscape, ""
	}
	if strings.HasPrefix(raw, inputPrefix) {
		return KindInput, strings.TrimPrefix(raw, inputPrefix)
	}
	return None, ""
}

// Input formats an __INPUT__ sentinel for the given text, optionally
// prefixing it with \x03 (ETX) when escape is requested — used by
// POST /api/runs/:id/input's optional "escape" flag.
func Input(text string, escape bool) string {
	if escape {
		text = "\x03" + text
	}
	return inputPrefix + text
}

// IsSentinel reports whether raw is any of the reserved control strings.
func IsSentinel(raw string) bool {
	k, _ := Parse(raw)
	return k != None
}
