package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"scratchbrainz/deck"
)

var (
	// ErrNotLoaded is returned by Start before a track is loaded.
	ErrNotLoaded   = fmt.Errorf("audio: %w", deck.ErrNoTrack)
	ErrInvalidRate = errors.New("audio: invalid rate")
)

const (
	bytesPerFrame = Channels * 4
	// rampFrames fades each start in and each grain out, so grain churn
	// does not click.
	rampFrames = 32
)

// Player plays one loaded track at a variable rate. It implements
// deck.AudioDevice for the engine and io.Reader for an output, which pulls
// float32 little-endian stereo frames at the output sample rate.
//
// The read cursor is fractional and advances by rate times the ratio of
// track to output sample rate, so a rate change or a sample rate mismatch
// is a plain change of step with linear interpolation between frames.
type Player struct {
	mu         sync.Mutex
	outputRate int
	track      *Track
	ratio      float64

	cursor  float64
	rate    float64
	reverse bool
	playing bool

	delay     int
	grain     int
	grainLeft int
	played    int
}

// NewPlayer returns an empty player for an output running at sampleRate.
func NewPlayer(sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Player{outputRate: sampleRate, rate: 1}
}

// SampleRate returns the output sample rate.
func (p *Player) SampleRate() int { return p.outputRate }

// Load replaces the track, stops playback and returns the new duration.
// A nil track unloads.
func (p *Player) Load(t *Track) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.cursor = 0
	p.track = t
	p.ratio = 0
	if t != nil && t.SampleRate > 0 {
		p.ratio = float64(t.SampleRate) / float64(p.outputRate)
	}
	return t.Duration()
}

func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track.Duration()
}

// Start plays from position seconds after delay. A positive grain stops
// playback again once that much output has been produced.
func (p *Player) Start(delay time.Duration, from float64, grain time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil || p.track.Frames() == 0 {
		return ErrNotLoaded
	}
	if math.IsNaN(from) || math.IsInf(from, 0) {
		from = 0
	}
	last := float64(p.track.Frames() - 1)
	p.cursor = math.Min(math.Max(from*float64(p.track.SampleRate), 0), last)
	p.delay = p.frames(delay)
	p.grain = p.frames(grain)
	p.grainLeft = p.grain
	p.played = 0
	p.playing = true
	return nil
}

func (p *Player) Stop() error {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return nil
}

// SetRate sets the rate multiplier. Negative rates read backwards.
func (p *Player) SetRate(multiplier float64) error {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("set rate %v: %w", multiplier, ErrInvalidRate)
	}
	p.mu.Lock()
	p.rate = multiplier
	p.mu.Unlock()
	return nil
}

func (p *Player) SetReverse(reverse bool) error {
	p.mu.Lock()
	p.reverse = reverse
	p.mu.Unlock()
	return nil
}

// Position returns the read cursor in seconds.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil || p.track.SampleRate <= 0 {
		return 0
	}
	return p.cursor / float64(p.track.SampleRate)
}

func (p *Player) State() deck.AudioState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return deck.AudioStarted
	}
	return deck.AudioStopped
}

// Read fills b with the next output frames. It never blocks and never
// fails; a stopped player produces silence.
func (p *Player) Read(b []byte) (int, error) {
	frames := len(b) / bytesPerFrame

	p.mu.Lock()
	for i := 0; i < frames; i++ {
		l, r := p.next()
		binary.LittleEndian.PutUint32(b[i*bytesPerFrame:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(b[i*bytesPerFrame+4:], math.Float32bits(r))
	}
	p.mu.Unlock()

	clear(b[frames*bytesPerFrame:])
	return len(b), nil
}

func (p *Player) frames(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(p.outputRate)))
}

// next produces one output frame and advances the cursor. Callers hold mu.
func (p *Player) next() (float32, float32) {
	if !p.playing || p.track == nil {
		return 0, 0
	}
	if p.delay > 0 {
		p.delay--
		return 0, 0
	}

	n := p.track.Frames()
	i := int(p.cursor)
	frac := float32(p.cursor - float64(i))
	j := i + 1
	if j >= n {
		j = i
	}
	s := p.track.Samples
	l := s[i*Channels] + (s[j*Channels]-s[i*Channels])*frac
	r := s[i*Channels+1] + (s[j*Channels+1]-s[i*Channels+1])*frac

	gain := float32(1)
	if p.played < rampFrames {
		gain = float32(p.played) / rampFrames
	}
	if p.grain > 0 && p.grainLeft < rampFrames {
		gain = min(gain, float32(p.grainLeft)/rampFrames)
	}
	p.played++

	step := p.rate * p.ratio
	if p.reverse {
		step = -step
	}
	p.cursor += step
	switch {
	case p.cursor < 0:
		p.cursor = 0
		p.playing = false
	case p.cursor > float64(n-1):
		p.cursor = float64(n - 1)
		p.playing = false
	}

	if p.grain > 0 {
		p.grainLeft--
		if p.grainLeft <= 0 {
			p.playing = false
		}
	}
	return l * gain, r * gain
}
