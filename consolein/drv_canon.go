// drv_canon.go implements the "canonical" input mode, also selectable
// as "fgets": when the firmware starts fetching a line we hand the
// terminal to the host's cooked mode, so the host does the editing and
// the echo, and the firmware's own echo is suppressed.

package consolein

// CanonicalInput reads bytes the same way the default driver does, but
// substitutes the host's line discipline for the firmware's.
type CanonicalInput struct {
	TTYInput
}

// LineInput switches the terminal to cooked mode for the duration of
// the line, and hides the firmware's echo of it.  The switch back to
// raw happens when the carriage return ending the line is delivered.
func (ca *CanonicalInput) LineInput() error {
	ca.ci.gate.Suppress()
	ca.ci.term.SetCooked()
	return nil
}

// GetName is part of the module API, and returns the name of this driver.
func (ca *CanonicalInput) GetName() string {
	return "canonical"
}

// init registers our driver, under its name and the traditional alias.
func init() {
	ctor := func() InputDriver {
		return new(CanonicalInput)
	}
	Register("canonical", ctor)
	Register("fgets", ctor)
}
