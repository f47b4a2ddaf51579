package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Action
	}{
		{[]string{"33"}, SetSpeed{RPM: 100.0 / 3}},
		{[]string{"45"}, SetSpeed{RPM: 45}},
		{[]string{"stop"}, SetSpeed{RPM: 0}},
		{[]string{"speed", "45"}, SetSpeed{RPM: 45}},
		{[]string{"toggle-play"}, TogglePlay{}},
		{[]string{"rev"}, ToggleDirection{}},
		{[]string{"pitch", "1.04"}, SetPitch{Factor: 1.04}},
		{[]string{"cue"}, ToggleArmLift{}},
		{
			[]string{"geometry", "0", "0", "400", "400", "460", "40"},
			SetGeometry{Platter: rect{W: 400, H: 400}, Pivot: point{X: 460, Y: 40}},
		},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if err != nil {
			t.Errorf("%v: unexpected error: %v", tt.args, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v: got %#v, want %#v", tt.args, got, tt.want)
		}
	}
}

func TestParseCommand_LoadIsAbsolute(t *testing.T) {
	got, err := parseCommand([]string{"load", "side-a.wav"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lt, ok := got.(LoadTrack)
	if !ok || !filepath.IsAbs(lt.Path) || filepath.Base(lt.Path) != "side-a.wav" {
		t.Errorf("got %#v", got)
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"warp"},
		{"pitch"},
		{"pitch", "fast"},
		{"load"},
		{"geometry", "1", "2"},
	} {
		if _, err := parseCommand(args); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestMarshalAction(t *testing.T) {
	data, err := marshalAction(SetPitch{Factor: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"set_pitch","data":{"factor":0.9}}` {
		t.Errorf("got %s", data)
	}

	data, err = marshalAction(ToggleArmLift{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "toggle_arm_lift" || len(env.Data) != 0 {
		t.Errorf("got %s", data)
	}
}
