// Package charset converts between host ASCII and the Apple ]['s
// high-bit character codes.
//
// The Apple keyboard hardware presents every character with bit seven
// set, that bit doubling as the "key ready" strobe, and the firmware
// prints characters in the same form.  The conversion is trivial but
// it is needed in several places, so it lives here.
package charset

const (
	// CR is the Apple carriage-return code, which ends every line
	// of keyboard input.
	CR = 0x8D

	// Interrupt is the code an Apple keyboard generates for Ctrl-C.
	Interrupt = 0x83
)

// FromHost converts a byte read from the host into the code the Apple
// keyboard register presents.  Host newlines become carriage returns,
// because that is the only line terminator the firmware knows.
func FromHost(c byte) byte {
	if c == '\n' {
		c = '\r'
	}
	return c | 0x80
}

// ToHost converts a character the firmware prints into plain ASCII by
// clearing the high bit.
func ToHost(c byte) byte {
	return c &^ 0x80
}

// IsPrint reports whether c is a printable host character, i.e. one we
// can hand to the terminal as-is.
func IsPrint(c byte) bool {
	return c >= 0x20 && c < 0x7F
}
