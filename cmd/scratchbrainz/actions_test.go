package main

import (
	"strings"
	"testing"

	"scratchbrainz/deck"
)

func TestUnmarshalAction_PointerGesture(t *testing.T) {
	a, err := UnmarshalAction([]byte(`{"type":"disc_scratch_move","data":{"x":12.5,"y":-3}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	move, ok := a.(DiscScratchMove)
	if !ok {
		t.Fatalf("expected DiscScratchMove, got %T", a)
	}
	if move.X != 12.5 || move.Y != -3 {
		t.Errorf("unexpected point: %+v", move)
	}
}

func TestUnmarshalAction_NoPayload(t *testing.T) {
	for _, line := range []string{
		`{"type":"toggle_direction"}`,
		`{"type":"toggle_direction","data":{}}`,
		`{"type":"toggle_direction","data":null}`,
	} {
		a, err := UnmarshalAction([]byte(line))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", line, err)
		}
		if _, ok := a.(ToggleDirection); !ok {
			t.Errorf("%s: expected ToggleDirection, got %T", line, a)
		}
	}
}

func TestUnmarshalAction_SetGeometry(t *testing.T) {
	line := `{"type":"set_geometry","data":{"platter":{"x":10,"y":20,"w":300,"h":300},"pivot":{"x":400,"y":30}}}`
	a, err := UnmarshalAction([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, ok := a.(SetGeometry)
	if !ok {
		t.Fatalf("expected SetGeometry, got %T", a)
	}
	want := SetGeometry{
		Platter: deck.Rect{X: 10, Y: 20, W: 300, H: 300},
		Pivot:   deck.Point{X: 400, Y: 30},
	}
	if g != want {
		t.Errorf("got %+v, want %+v", g, want)
	}
}

func TestUnmarshalAction_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"not json", `set_speed`, "unmarshal envelope"},
		{"unknown type", `{"type":"volume_step"}`, "unknown action type"},
		{"bad payload", `{"type":"set_speed","data":{"rpm":"fast"}}`, "unmarshal set_speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalAction([]byte(tt.line))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMarshalAction_Envelope(t *testing.T) {
	b, err := MarshalAction(SetSpeed{RPM: 45})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := string(b), `{"type":"set_speed","data":{"rpm":45}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	b, err = MarshalAction(ArmDragEnd{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := string(b), `{"type":"arm_drag_end"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if _, err := MarshalAction(JogSteps{Steps: 1}); err == nil {
		t.Errorf("expected JogSteps to have no wire form")
	}
}

func TestMarshalAction_DecodesBack(t *testing.T) {
	in := LoadTrack{Path: "/music/break.wav"}
	b, err := MarshalAction(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := UnmarshalAction(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}
