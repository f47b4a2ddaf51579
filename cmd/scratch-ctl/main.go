package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ============================================================================
// scratch-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the scratchbrainz daemon via IPC.
//
// Usage:
//   scratch-ctl 33
//   scratch-ctl stop
//   scratch-ctl pitch 1.04
//   scratch-ctl load ~/records/side-a.wav
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/scratchbrainz.sock)
// ============================================================================

// Action types (duplicated from main package for standalone binary)
type Action any

type SetSpeed struct {
	RPM float64 `json:"rpm"`
}

type TogglePlay struct{}

type ToggleDirection struct{}

type SetPitch struct {
	Factor float64 `json:"factor"`
}

type ToggleArmLift struct{}

type rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SetGeometry struct {
	Platter rect  `json:"platter"`
	Pivot   point `json:"pivot"`
}

type LoadTrack struct {
	Path string `json:"path"`
}

// ActionEnvelope wraps actions for JSON
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/scratchbrainz.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	action, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := sendAction(socketPath, action); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func parseCommand(args []string) (Action, error) {
	switch args[0] {
	case "33", "start":
		return SetSpeed{RPM: 100.0 / 3}, nil

	case "45":
		return SetSpeed{RPM: 45}, nil

	case "stop":
		return SetSpeed{RPM: 0}, nil

	case "speed":
		v, err := floatArgs(args, 1)
		if err != nil {
			return nil, err
		}
		return SetSpeed{RPM: v[0]}, nil

	case "play", "toggle-play":
		return TogglePlay{}, nil

	case "reverse", "rev", "toggle-direction":
		return ToggleDirection{}, nil

	case "pitch":
		v, err := floatArgs(args, 1)
		if err != nil {
			return nil, err
		}
		return SetPitch{Factor: v[0]}, nil

	case "lift", "cue":
		return ToggleArmLift{}, nil

	case "load":
		if len(args) < 2 {
			return nil, fmt.Errorf("load requires a track path")
		}
		// The daemon may run in another working directory.
		path, err := filepath.Abs(args[1])
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", args[1], err)
		}
		return LoadTrack{Path: path}, nil

	case "geometry":
		v, err := floatArgs(args, 6)
		if err != nil {
			return nil, err
		}
		return SetGeometry{
			Platter: rect{X: v[0], Y: v[1], W: v[2], H: v[3]},
			Pivot:   point{X: v[4], Y: v[5]},
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

// floatArgs parses exactly n numeric arguments after the command name.
func floatArgs(args []string, n int) ([]float64, error) {
	if len(args)-1 != n {
		return nil, fmt.Errorf("%s requires %d numeric argument(s)", args[0], n)
	}
	out := make([]float64, n)
	for i, s := range args[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", args[0], s)
		}
		out[i] = v
	}
	return out, nil
}

func sendAction(socketPath string, action Action) error {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalAction(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	// Send action (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send action: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func marshalAction(action Action) ([]byte, error) {
	var env ActionEnvelope
	var payload any

	switch a := action.(type) {
	case SetSpeed:
		env.Type = "set_speed"
		payload = a
	case TogglePlay:
		env.Type = "toggle_play"
	case ToggleDirection:
		env.Type = "toggle_direction"
	case SetPitch:
		env.Type = "set_pitch"
		payload = a
	case ToggleArmLift:
		env.Type = "toggle_arm_lift"
	case SetGeometry:
		env.Type = "set_geometry"
		payload = a
	case LoadTrack:
		env.Type = "load_track"
		payload = a
	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `scratch-ctl - Control the scratchbrainz turntable daemon via IPC

Usage:
  scratch-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/scratchbrainz.sock)

Commands:
  33, start                       Start the motor at 33 1/3 RPM
  45                              Start the motor at 45 RPM
  stop                            Stop the motor and return the arm
  speed <rpm>                     Set an exact speed (0, 33.33 or 45)
  play, toggle-play               Start at 33 1/3 or stop
  reverse, rev                    Toggle playback direction
  pitch <factor>                  Set pitch factor (0.5 to 1.5)
  lift, cue                       Work the cue lever
  load <path>                     Load a WAV or MP3 track
  geometry <x> <y> <w> <h> <px> <py>
                                  Set the platter rect and arm pivot
  help, -h, --help                Show this help message

Examples:
  scratch-ctl 45
  scratch-ctl pitch 0.92
  scratch-ctl -socket /run/scratchbrainz.sock load side-a.mp3
`)
}
