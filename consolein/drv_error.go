// drv_error is a console input-driver which only returns errors.
//
// This driver is only used for testing purposes.

package consolein

import "fmt"

var (
	// ErrorInputName contains the name of this driver.
	ErrorInputName = "error"
)

// ErrorInput is an input-driver that only returns errors, and is used
// for testing the fatal-read path.
type ErrorInput struct {
}

// Setup is a NOP.
func (ei *ErrorInput) Setup(ci *ConsoleIn) error {
	return nil
}

// TearDown is a NOP.
func (ei *ErrorInput) TearDown() error {
	return nil
}

// Refill always fails.
func (ei *ErrorInput) Refill(p []byte) (int, error) {
	return 0, fmt.Errorf("DRV_ERROR")
}

// LineInput is a NOP.
func (ei *ErrorInput) LineInput() error {
	return nil
}

// GetName returns the name of this driver, "error".
func (ei *ErrorInput) GetName() string {
	return ErrorInputName
}

// init registers our driver, by name.
func init() {
	Register(ErrorInputName, func() InputDriver {
		return new(ErrorInput)
	})
}
