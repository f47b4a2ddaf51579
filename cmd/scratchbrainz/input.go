package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"

	"scratchbrainz/groove"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from one device and sends them to a
// channel. It blocks on read and is meant for its own goroutine.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// translateInput maps a jog controller event to an action. Dial and wheel
// detents scratch; transport keys act on press only, so auto-repeat and
// release are ignored.
func translateInput(ev inputEvent) (Action, bool) {
	switch ev.Type {
	case EV_REL:
		if (ev.Code == REL_DIAL || ev.Code == REL_WHEEL) && ev.Value != 0 {
			return JogSteps{Steps: int(ev.Value)}, true
		}

	case EV_KEY:
		if ev.Value != evValuePress {
			return nil, false
		}
		switch ev.Code {
		case KEY_PLAYPAUSE:
			return TogglePlay{}, true
		case KEY_PLAYCD:
			return SetSpeed{RPM: groove.RPM33}, true
		case KEY_NEXTSONG:
			return SetSpeed{RPM: groove.RPM45}, true
		case KEY_STOPCD:
			return SetSpeed{RPM: 0}, true
		case KEY_PREVIOUSSONG:
			return ToggleDirection{}, true
		}
	}
	return nil, false
}

// runInput feeds jog controller events to the daemon loop until ctx is
// canceled. A failing device is logged and input stops; the deck keeps
// running without it.
func runInput(ctx context.Context, files []*os.File, requests chan<- request, logger *slog.Logger) error {
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	events := make(chan inputEvent, 64)
	readErr := make(chan error, len(files)+1)
	go readInputDevices(files, events, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			logger.Error("input reader stopped", "error", err)
			return nil

		case ev := <-events:
			action, ok := translateInput(ev)
			if !ok {
				continue
			}
			select {
			case requests <- request{Action: action}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
