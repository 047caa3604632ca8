package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrShortFrame       = errors.New("short frame")
	ErrBadPrefix        = errors.New("bad frame prefix")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// FrameError describes why a frame was rejected. It matches the sentinel
// errors above with errors.Is.
type FrameError struct {
	Err  error
	Want byte
	Got  byte
}

func (e *FrameError) Error() string {
	switch e.Err {
	case ErrShortFrame:
		return fmt.Sprintf("%v: want %d bytes, got %d", e.Err, e.Want, e.Got)
	default:
		return fmt.Sprintf("%v: want 0x%02x, got 0x%02x", e.Err, e.Want, e.Got)
	}
}

func (e *FrameError) Unwrap() error { return e.Err }
