package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"scratchbrainz/audio"
	"scratchbrainz/deck"
	"scratchbrainz/groove"
)

var testGeometry = deck.Geometry{
	Platter: deck.Rect{X: 0, Y: 0, W: 400, H: 400},
	Pivot:   deck.Point{X: 600, Y: 100},
}

func newTestDaemon(t *testing.T) (*daemon, *testingclock.FakeClock, chan stateBroadcast) {
	t.Helper()
	c := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	states := make(chan stateBroadcast, 64)
	d := newDaemon(daemonConfig{
		Clock:      c,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Player:     audio.NewPlayer(48000),
		Geometry:   testGeometry,
		Broadcasts: states,
	})
	return d, c, states
}

// drain returns everything queued on states without blocking.
func drain(states chan stateBroadcast) []stateBroadcast {
	var out []stateBroadcast
	for {
		select {
		case b := <-states:
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestDaemon_SetSpeed(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	if err := d.apply(SetSpeed{RPM: 45}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.engine.Transport(); got.Phase != deck.Starting || got.RPM != groove.RPM45 {
		t.Errorf("expected starting at 45, got %+v", got)
	}

	if err := d.apply(SetSpeed{RPM: 78}); !errors.Is(err, deck.ErrUnsupportedSpeed) {
		t.Errorf("expected ErrUnsupportedSpeed, got %v", err)
	}
}

func TestDaemon_TogglePlay(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	if err := d.apply(TogglePlay{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.engine.Transport(); !got.Running() || got.RPM != groove.RPM33 {
		t.Fatalf("expected motor on at 33, got %+v", got)
	}

	if err := d.apply(TogglePlay{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.engine.Transport(); got.Phase != deck.Stopped {
		t.Errorf("expected stopped, got %+v", got)
	}
}

func TestDaemon_PublishesStateOnlyOnChange(t *testing.T) {
	d, c, states := newTestDaemon(t)

	d.engine.Tick()
	d.publish(c.Now())
	got := drain(states)
	if len(got) != 2 {
		t.Fatalf("expected a frame and a state, got %d broadcasts", len(got))
	}
	frame, ok := got[0].(frameBroadcast)
	if !ok || frame.Tonearm == nil || frame.Platter == nil {
		t.Fatalf("expected first frame with tonearm and platter, got %#v", got[0])
	}
	if frame.Tonearm.Angle != groove.ArmRest {
		t.Errorf("expected arm at rest, got %v", frame.Tonearm.Angle)
	}
	if _, ok := got[1].(snapshotBroadcast); !ok {
		t.Fatalf("expected snapshot, got %T", got[1])
	}

	// Nothing moves at rest.
	c.Step(time.Second / 60)
	d.tick()
	if got := drain(states); len(got) != 0 {
		t.Errorf("expected no broadcasts at rest, got %d", len(got))
	}

	if err := d.apply(ToggleDirection{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.publish(c.Now())
	got = drain(states)
	if len(got) != 1 {
		t.Fatalf("expected one state broadcast, got %d", len(got))
	}
	snap, ok := got[0].(snapshotBroadcast)
	if !ok {
		t.Fatalf("expected snapshot, got %T", got[0])
	}
	if snap.Snapshot.Transport.Direction != deck.Reverse {
		t.Errorf("expected reverse, got %v", snap.Snapshot.Transport.Direction)
	}
}

func TestDaemon_StateRetriedWhenQueueFull(t *testing.T) {
	c := testingclock.NewFakeClock(time.Now())
	states := make(chan stateBroadcast, 1)
	d := newDaemon(daemonConfig{
		Clock:      c,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Geometry:   testGeometry,
		Broadcasts: states,
	})

	// The frame fills the queue; the state has to wait.
	d.engine.Tick()
	d.publish(c.Now())
	if _, ok := (<-states).(frameBroadcast); !ok {
		t.Fatalf("expected the frame first")
	}

	d.publish(c.Now())
	if _, ok := (<-states).(snapshotBroadcast); !ok {
		t.Fatalf("expected the pending state on the next publish")
	}
}

func TestDaemon_JogBurstScratchesAndReleases(t *testing.T) {
	d, c, _ := newTestDaemon(t)

	if err := d.apply(JogSteps{Steps: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := d.engine.Gesture()
	if !ok || s.Kind != deck.DiscScratch {
		t.Fatalf("expected a disc scratch, got %+v (ok=%v)", s, ok)
	}

	c.Step(50 * time.Millisecond)
	d.tick()
	if _, ok := d.engine.Gesture(); !ok {
		t.Fatalf("burst ended inside the release window")
	}

	c.Step(200 * time.Millisecond)
	d.tick()
	if _, ok := d.engine.Gesture(); ok {
		t.Errorf("expected the burst to be released")
	}
	if d.jog.active {
		t.Errorf("expected jog wheel reset")
	}
}

func TestDaemon_JogYieldsToPointerScratch(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	if err := d.apply(DiscScratchBegin{X: 350, Y: 200}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.apply(JogSteps{Steps: 1}); !errors.Is(err, deck.ErrGestureActive) {
		t.Errorf("expected ErrGestureActive, got %v", err)
	}
	if d.jog.active {
		t.Errorf("jog wheel must not hold a burst it could not open")
	}
	if err := d.apply(DiscScratchEnd{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDaemon_JogReopensAfterScratchEndedElsewhere(t *testing.T) {
	d, c, _ := newTestDaemon(t)

	if err := d.apply(JogSteps{Steps: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A renderer releases the record inside the burst window.
	if err := d.apply(DiscScratchEnd{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Step(20 * time.Millisecond)
	if err := d.apply(JogSteps{Steps: 1}); err != nil {
		t.Fatalf("expected the next detent to open a new burst, got %v", err)
	}
	s, ok := d.engine.Gesture()
	if !ok || s.Kind != deck.DiscScratch {
		t.Fatalf("expected a disc scratch, got %+v (ok=%v)", s, ok)
	}
	if !d.jog.active {
		t.Errorf("expected an open jog burst")
	}
}

func TestDaemon_SetGeometry(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	bad := SetGeometry{Platter: deck.Rect{W: 0, H: 100}}
	if err := d.apply(bad); !errors.Is(err, deck.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if d.geometry != testGeometry {
		t.Errorf("geometry changed after a rejected update")
	}

	good := SetGeometry{Platter: deck.Rect{X: 10, Y: 10, W: 200, H: 200}, Pivot: deck.Point{X: 300, Y: 20}}
	if err := d.apply(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.geometry.Platter != good.Platter || d.geometry.Pivot != good.Pivot {
		t.Errorf("expected geometry %+v, got %+v", good, d.geometry)
	}
}

func TestDaemon_TrackLoaded(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	track := &audio.Track{Name: "loop.wav", SampleRate: 1000, Samples: make([]float32, 2*5000)}
	if err := d.apply(trackLoaded{Track: track}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.engine.Snapshot().Audio.Duration; got != 5 {
		t.Errorf("expected 5s track, got %v", got)
	}
}

func TestDaemon_UnpreparedLoadTrack(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	if err := d.apply(LoadTrack{Path: "x.wav"}); !errors.Is(err, errUnpreparedAction) {
		t.Errorf("expected errUnpreparedAction, got %v", err)
	}
}

func TestPrepareAction(t *testing.T) {
	a, err := prepareAction(SetPitch{Factor: 1.1})
	if err != nil || a != (SetPitch{Factor: 1.1}) {
		t.Errorf("expected action passed through, got %v, %v", a, err)
	}

	if _, err := prepareAction(LoadTrack{}); err == nil {
		t.Errorf("expected error for empty path")
	}
	if _, err := prepareAction(LoadTrack{Path: t.TempDir() + "/missing.wav"}); err == nil {
		t.Errorf("expected error for missing file")
	}
	notes := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notes, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := prepareAction(LoadTrack{Path: notes}); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRunDaemon_SubmitAndSnapshot(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan request, 8)
	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, requests, d, time.Second/60)
	}()

	if err := submit(ctx, requests, SetSpeed{RPM: groove.RPM33}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := submit(ctx, requests, SetSpeed{RPM: 16}); !errors.Is(err, deck.ErrUnsupportedSpeed) {
		t.Errorf("expected ErrUnsupportedSpeed, got %v", err)
	}

	snap, err := requestSnapshot(ctx, requests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Transport.Phase != deck.Starting {
		t.Errorf("expected starting, got %v", snap.Transport.Phase)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for daemon to stop")
	}
}
