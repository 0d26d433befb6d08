//go:build linux

package termios

import "golang.org/x/sys/unix"

// The ioctl numbers for reading and writing terminal attributes differ
// between Linux and the BSDs.
const (
	ioctlReadTermios  = unix.TCGETS
	ioctlWriteTermios = unix.TCSETS
)
