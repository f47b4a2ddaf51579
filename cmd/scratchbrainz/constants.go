package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_PLAYPAUSE    = 164
	KEY_STOPCD       = 166
	KEY_PREVIOUSSONG = 165
	KEY_NEXTSONG     = 163
	KEY_PLAYCD       = 200

	// Jog wheel relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Daemon defaults
const (
	defaultTickHz         = 60
	defaultSampleRate     = 48000
	defaultBufferMS       = 40
	defaultSocketPath     = "/tmp/scratchbrainz.sock"
	defaultWSListen       = "127.0.0.1:8765"
	defaultWSPath         = "/ws"
	defaultCoalesceMS     = 16
	defaultDegreesPerStep = 3.0
	defaultJogReleaseMS   = 150

	// submitTimeout bounds how long an IPC or websocket client waits for the
	// daemon loop to apply an action.
	submitTimeout = 2 * time.Second
)
