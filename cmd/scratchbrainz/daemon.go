package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"scratchbrainz/audio"
	"scratchbrainz/deck"
	"scratchbrainz/groove"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon loop is the only goroutine that touches the deck engine. It:
//   - applies queued actions from IPC, the renderer websocket and the jog wheel
//   - ticks the engine at a fixed cadence
//   - flushes the renderer frame produced by each tick
//   - publishes a "state" snapshot whenever the visible state changes
//
// ============================================================================

// request is an action queued for the daemon loop. If Reply is set it
// receives the result of applying the action; it must be buffered.
type request struct {
	Action Action
	Reply  chan<- error
}

// snapshotRequest asks the loop for a snapshot (used for state_init).
type snapshotRequest struct {
	Reply chan<- deck.Snapshot
}

// trackLoaded carries a decoded track into the loop.
type trackLoaded struct {
	Track *audio.Track
}

var errUnpreparedAction = errors.New("action must be prepared before queuing")

type daemonConfig struct {
	Clock    clock.WithTicker
	Logger   *slog.Logger
	Player   *audio.Player
	Geometry deck.Geometry
	Pitch    float64

	JogDegreesPerStep float64
	JogRelease        time.Duration

	// Broadcasts receives frames and state snapshots for the websocket.
	// Nil disables publishing.
	Broadcasts chan<- stateBroadcast
}

type daemon struct {
	clock    clock.WithTicker
	logger   *slog.Logger
	engine   *deck.Engine
	player   *audio.Player
	renderer *wsRenderer
	jog      *jogWheel
	geometry deck.Geometry

	states    chan<- stateBroadcast
	lastState stateKey
	published bool
}

func newDaemon(cfg daemonConfig) *daemon {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Player == nil {
		cfg.Player = audio.NewPlayer(defaultSampleRate)
	}
	if cfg.JogDegreesPerStep <= 0 {
		cfg.JogDegreesPerStep = defaultDegreesPerStep
	}
	if cfg.JogRelease <= 0 {
		cfg.JogRelease = defaultJogReleaseMS * time.Millisecond
	}

	renderer := newWSRenderer(cfg.Broadcasts)
	return &daemon{
		clock:  cfg.Clock,
		logger: cfg.Logger,
		engine: deck.New(deck.Options{
			Clock:    cfg.Clock,
			Logger:   cfg.Logger.With("component", "deck"),
			Audio:    cfg.Player,
			Renderer: renderer,
			Geometry: cfg.Geometry,
			Pitch:    cfg.Pitch,
		}),
		player:   cfg.Player,
		renderer: renderer,
		jog:      newJogWheel(cfg.JogDegreesPerStep, cfg.JogRelease),
		geometry: cfg.Geometry,
		states:   cfg.Broadcasts,
	}
}

// runDaemon ticks the engine every interval and applies requests until ctx
// is canceled or requests is closed.
func runDaemon(ctx context.Context, requests <-chan request, d *daemon, interval time.Duration) error {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	d.engine.Tick()
	d.publish(d.clock.Now())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			_ = d.player.Stop()
			return nil

		case req, ok := <-requests:
			if !ok {
				d.logger.Info("daemon stopping (requests channel closed)")
				_ = d.player.Stop()
				return nil
			}
			err := d.apply(req.Action)
			if req.Reply != nil {
				req.Reply <- err
			} else if err != nil {
				d.logger.Debug("action rejected", "action", fmt.Sprintf("%T", req.Action), "error", err)
			}
			d.publish(d.clock.Now())

		case <-ticker.C():
			d.tick()
		}
	}
}

// tick releases an idle jog burst, advances the engine one frame and
// publishes the result.
func (d *daemon) tick() {
	now := d.clock.Now()
	if d.jog.expired(now) {
		d.jog.reset()
		if err := d.engine.EndDiscScratch(); err != nil && !errors.Is(err, deck.ErrNoGesture) {
			d.logger.Debug("jog release failed", "error", err)
		}
	}
	d.engine.Tick()
	d.publish(now)
}

// apply runs one action against the engine.
func (d *daemon) apply(action Action) error {
	switch a := action.(type) {
	case SetSpeed:
		return d.engine.SetSpeed(a.RPM)

	case TogglePlay:
		if d.engine.Transport().Running() {
			return d.engine.SetSpeed(0)
		}
		return d.engine.SetSpeed(groove.RPM33)

	case ToggleDirection:
		d.engine.ToggleDirection()

	case SetPitch:
		d.engine.SetPitch(a.Factor)

	case ToggleArmLift:
		d.engine.ToggleArmLift()

	case DiscScratchBegin:
		return d.engine.BeginDiscScratch(deck.Point{X: a.X, Y: a.Y})
	case DiscScratchMove:
		return d.engine.UpdateDiscScratch(deck.Point{X: a.X, Y: a.Y})
	case DiscScratchEnd:
		return d.engine.EndDiscScratch()

	case ArmDragBegin:
		return d.engine.BeginArmDrag(deck.Point{X: a.X, Y: a.Y})
	case ArmDragMove:
		return d.engine.UpdateArmDrag(deck.Point{X: a.X, Y: a.Y})
	case ArmDragEnd:
		return d.engine.EndArmDrag()

	case SetGeometry:
		g := deck.Geometry{Platter: a.Platter, Pivot: a.Pivot}
		if err := d.engine.SetGeometry(g); err != nil {
			return err
		}
		d.geometry = g

	case JogSteps:
		return d.jogStep(a.Steps, d.clock.Now())

	case trackLoaded:
		duration := d.player.Load(a.Track)
		d.engine.SetAudio(d.player)
		d.logger.Info("track loaded", "name", a.Track.Name, "duration_s", duration, "sample_rate", a.Track.SampleRate)

	case snapshotRequest:
		a.Reply <- d.engine.Snapshot()

	case LoadTrack:
		return fmt.Errorf("load_track: %w", errUnpreparedAction)

	default:
		return fmt.Errorf("unsupported action %T", action)
	}
	return nil
}

func (d *daemon) jogStep(n int, now time.Time) error {
	if n == 0 {
		return nil
	}
	begin, from, to := d.jog.step(n, now)
	if !begin {
		err := d.engine.UpdateDiscScratch(orbitPoint(d.geometry, to))
		if !errors.Is(err, deck.ErrNoGesture) {
			return err
		}
		// The scratch was ended elsewhere mid-burst; open a new one.
		d.jog.reset()
		begin, from, to = d.jog.step(n, now)
	}
	if begin {
		if err := d.engine.BeginDiscScratch(orbitPoint(d.geometry, from)); err != nil {
			d.jog.reset()
			return err
		}
	}
	return d.engine.UpdateDiscScratch(orbitPoint(d.geometry, to))
}

// stateKey is the part of a snapshot whose change is worth a "state"
// broadcast. Angles and positions move every frame and travel as frames.
type stateKey struct {
	Transport deck.Transport
	Pitch     float64
	Platter   string
	Tonearm   string
	Height    string
	Zone      string
	Gesture   string
	Audio     string
	Pending   bool
	Duration  float64
}

func stateKeyOf(s deck.Snapshot) stateKey {
	return stateKey{
		Transport: s.Transport,
		Pitch:     s.Pitch,
		Platter:   s.Rotation.Regime,
		Tonearm:   s.Tonearm.Regime,
		Height:    s.Tonearm.Height,
		Zone:      s.Tonearm.Zone,
		Gesture:   s.Gesture,
		Audio:     s.Audio.State,
		Pending:   s.Audio.Pending,
		Duration:  s.Audio.Duration,
	}
}

// publish flushes the pending renderer frame and sends a snapshot if the
// visible state changed since the last one that got through.
func (d *daemon) publish(now time.Time) {
	d.renderer.flush(now)
	if d.states == nil {
		return
	}

	snap := d.engine.Snapshot()
	key := stateKeyOf(snap)
	if d.published && key == d.lastState {
		return
	}
	select {
	case d.states <- snapshotBroadcast{Snapshot: snap, At: now}:
		d.lastState = key
		d.published = true
	default:
		// Retried on the next publish.
	}
}

// prepareAction does the slow part of an action before it is queued, so
// the daemon loop never blocks on file I/O.
func prepareAction(action Action) (Action, error) {
	lt, ok := action.(LoadTrack)
	if !ok {
		return action, nil
	}
	if lt.Path == "" {
		return nil, errors.New("load_track: path is empty")
	}
	t, err := audio.LoadTrack(ExpandPath(lt.Path))
	if err != nil {
		return nil, err
	}
	return trackLoaded{Track: t}, nil
}

// submit prepares action, queues it and waits for the loop to apply it.
func submit(ctx context.Context, requests chan<- request, action Action) error {
	act, err := prepareAction(action)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	reply := make(chan error, 1)
	select {
	case requests <- request{Action: act, Reply: reply}:
	case <-ctx.Done():
		return fmt.Errorf("queue action: %w", ctx.Err())
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await action: %w", ctx.Err())
	}
}

// requestSnapshot asks the loop for a snapshot.
func requestSnapshot(ctx context.Context, requests chan<- request) (deck.Snapshot, error) {
	reply := make(chan deck.Snapshot, 1)
	select {
	case requests <- request{Action: snapshotRequest{Reply: reply}}:
	case <-ctx.Done():
		return deck.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return deck.Snapshot{}, ctx.Err()
	}
}
