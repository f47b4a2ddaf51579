package main

import (
	"encoding/json"
	"fmt"

	"scratchbrainz/deck"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions represent intent from the IPC socket, the renderer websocket and
// the jog wheel. The daemon loop owns the engine and applies them in order.
// ============================================================================

// Action is a marker interface for all daemon commands
type Action any

// SetSpeed starts the motor at rpm, changes speed, or stops it when rpm is 0
type SetSpeed struct {
	RPM float64 `json:"rpm"`
}

// TogglePlay stops a running motor or starts a stopped one at 33 1/3
type TogglePlay struct{}

// ToggleDirection flips forward/reverse
type ToggleDirection struct{}

// SetPitch sets the pitch factor (clamped to [0.5, 1.5])
type SetPitch struct {
	Factor float64 `json:"factor"`
}

// ToggleArmLift works the cue lever
type ToggleArmLift struct{}

// Pointer gestures in renderer client coordinates.
type (
	DiscScratchBegin struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	DiscScratchMove struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	DiscScratchEnd struct{}

	ArmDragBegin struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	ArmDragMove struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	ArmDragEnd struct{}
)

// SetGeometry reports the renderer's on-screen layout
type SetGeometry struct {
	Platter deck.Rect  `json:"platter"`
	Pivot   deck.Point `json:"pivot"`
}

// LoadTrack decodes the track at Path and swaps it in
type LoadTrack struct {
	Path string `json:"path"`
}

// JogSteps carries detents from the jog wheel (positive is clockwise).
// It has no wire form.
type JogSteps struct {
	Steps int
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// newAction returns a pointer to a zero value of the action registered
// under name, for decoding.
func newAction(name string) (any, bool) {
	switch name {
	case "set_speed":
		return &SetSpeed{}, true
	case "toggle_play":
		return &TogglePlay{}, true
	case "toggle_direction":
		return &ToggleDirection{}, true
	case "set_pitch":
		return &SetPitch{}, true
	case "toggle_arm_lift":
		return &ToggleArmLift{}, true
	case "disc_scratch_begin":
		return &DiscScratchBegin{}, true
	case "disc_scratch_move":
		return &DiscScratchMove{}, true
	case "disc_scratch_end":
		return &DiscScratchEnd{}, true
	case "arm_drag_begin":
		return &ArmDragBegin{}, true
	case "arm_drag_move":
		return &ArmDragMove{}, true
	case "arm_drag_end":
		return &ArmDragEnd{}, true
	case "set_geometry":
		return &SetGeometry{}, true
	case "load_track":
		return &LoadTrack{}, true
	default:
		return nil, false
	}
}

func actionName(action Action) (string, bool) {
	switch action.(type) {
	case SetSpeed:
		return "set_speed", true
	case TogglePlay:
		return "toggle_play", true
	case ToggleDirection:
		return "toggle_direction", true
	case SetPitch:
		return "set_pitch", true
	case ToggleArmLift:
		return "toggle_arm_lift", true
	case DiscScratchBegin:
		return "disc_scratch_begin", true
	case DiscScratchMove:
		return "disc_scratch_move", true
	case DiscScratchEnd:
		return "disc_scratch_end", true
	case ArmDragBegin:
		return "arm_drag_begin", true
	case ArmDragMove:
		return "arm_drag_move", true
	case ArmDragEnd:
		return "arm_drag_end", true
	case SetGeometry:
		return "set_geometry", true
	case LoadTrack:
		return "load_track", true
	default:
		return "", false
	}
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	ptr, ok := newAction(env.Type)
	if !ok {
		return nil, fmt.Errorf("unknown action type: %q", env.Type)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
	}

	switch a := ptr.(type) {
	case *SetSpeed:
		return *a, nil
	case *TogglePlay:
		return *a, nil
	case *ToggleDirection:
		return *a, nil
	case *SetPitch:
		return *a, nil
	case *ToggleArmLift:
		return *a, nil
	case *DiscScratchBegin:
		return *a, nil
	case *DiscScratchMove:
		return *a, nil
	case *DiscScratchEnd:
		return *a, nil
	case *ArmDragBegin:
		return *a, nil
	case *ArmDragMove:
		return *a, nil
	case *ArmDragEnd:
		return *a, nil
	case *SetGeometry:
		return *a, nil
	case *LoadTrack:
		return *a, nil
	default:
		return nil, fmt.Errorf("unknown action type: %q", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON action envelope
func MarshalAction(action Action) ([]byte, error) {
	name, ok := actionName(action)
	if !ok {
		return nil, fmt.Errorf("unknown action type: %T", action)
	}
	env := ActionEnvelope{Type: name}

	switch action.(type) {
	case TogglePlay, ToggleDirection, ToggleArmLift, DiscScratchEnd, ArmDragEnd:
		// No payload.
	default:
		data, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
