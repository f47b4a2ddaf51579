package audio

import (
	"errors"
	"io"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// ErrNoDevice is returned when the build has no hardware output.
var ErrNoDevice = errors.New("audio: no output device in this build")

// Output is a running sink pulling frames from a Player.
type Output interface {
	Close() error
}

// NullOutput pulls frames at real-time pace and discards them, so a
// player's cursor advances on hosts without a sound card.
type NullOutput struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewNullOutput starts draining src. Every period it reads the frames the
// period covers at sampleRate.
func NewNullOutput(c clock.WithTicker, src io.Reader, sampleRate int, period time.Duration) *NullOutput {
	o := &NullOutput{stop: make(chan struct{}), done: make(chan struct{})}
	frames := int(period.Seconds() * float64(sampleRate))
	if frames < 1 {
		frames = 1
	}
	go o.run(c, src, period, make([]byte, frames*bytesPerFrame))
	return o
}

func (o *NullOutput) run(c clock.WithTicker, src io.Reader, period time.Duration, buf []byte) {
	defer close(o.done)
	t := c.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-t.C():
			if _, err := io.ReadFull(src, buf); err != nil {
				return
			}
		}
	}
}

// Close stops draining and waits for the pump to exit.
func (o *NullOutput) Close() error {
	o.once.Do(func() { close(o.stop) })
	<-o.done
	return nil
}
