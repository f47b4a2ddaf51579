//go:build !headless

package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoOutput plays a Player through the system audio device. Only one may
// be opened per process.
type OtoOutput struct {
	ctx    *oto.Context
	player *oto.Player
}

// NewOtoOutput opens the device at sampleRate and starts pulling from src.
func NewOtoOutput(src io.Reader, sampleRate int, buffer time.Duration) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready

	pl := ctx.NewPlayer(src)
	pl.Play()
	return &OtoOutput{ctx: ctx, player: pl}, nil
}

func (o *OtoOutput) Close() error {
	return o.player.Close()
}
