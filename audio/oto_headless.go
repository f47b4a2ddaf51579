//go:build headless

package audio

import (
	"io"
	"time"
)

// OtoOutput is unavailable in headless builds.
type OtoOutput struct{}

func NewOtoOutput(io.Reader, int, time.Duration) (*OtoOutput, error) {
	return nil, ErrNoDevice
}

func (*OtoOutput) Close() error { return nil }
