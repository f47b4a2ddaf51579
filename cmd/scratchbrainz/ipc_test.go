package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startIPC serves a socket backed by a fake loop that answers each request
// with reply and records what it saw.
func startIPC(t *testing.T, reply func(Action) error) (string, <-chan Action) {
	t.Helper()

	// Unix socket paths are length limited; keep the directory short.
	dir, err := os.MkdirTemp("", "sbipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan request)
	seen := make(chan Action, 16)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-requests:
				seen <- req.Action
				req.Reply <- reply(req.Action)
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, sock, requests, quietLogger()) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("ipc server: %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for ipc server to stop")
		}
	})

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "socket not created")
	return sock, seen
}

func TestIPC_SendActionOK(t *testing.T) {
	sock, seen := startIPC(t, func(Action) error { return nil })

	if err := SendIPCAction(sock, SetSpeed{RPM: 45}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case a := <-seen:
		if a != (SetSpeed{RPM: 45}) {
			t.Errorf("loop got %#v", a)
		}
	case <-time.After(time.Second):
		t.Fatalf("action never reached the loop")
	}
}

func TestIPC_SendActionReportsApplyError(t *testing.T) {
	sock, _ := startIPC(t, func(Action) error {
		return errors.New("unsupported speed 78")
	})

	err := SendIPCAction(sock, SetSpeed{RPM: 78})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "unsupported speed 78") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIPC_ParseErrorKeepsConnectionOpen(t *testing.T) {
	sock, seen := startIPC(t, func(Action) error { return nil })

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	readResp := func() IPCResponse {
		t.Helper()
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		var resp IPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("decode response %q: %v", line, err)
		}
		return resp
	}

	if _, err := conn.Write([]byte("{\"type\":\"warp_speed\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readResp(); resp.Status != "error" || !strings.Contains(resp.Error, "parse action") {
		t.Errorf("unexpected response %+v", resp)
	}

	// Blank lines are skipped; the next action on the same connection works.
	if _, err := conn.Write([]byte("\n{\"type\":\"toggle_play\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readResp(); resp.Status != "ok" {
		t.Errorf("unexpected response %+v", resp)
	}
	if a := <-seen; a != (TogglePlay{}) {
		t.Errorf("loop got %#v", a)
	}
}

func TestIPC_LoadTrackFailsBeforeReachingLoop(t *testing.T) {
	sock, seen := startIPC(t, func(Action) error { return nil })

	err := SendIPCAction(sock, LoadTrack{Path: filepath.Join(t.TempDir(), "missing.wav")})
	if err == nil {
		t.Fatalf("expected error for missing track")
	}
	select {
	case a := <-seen:
		t.Errorf("loop should not see a failed load, got %#v", a)
	default:
	}
}

func TestSendIPCAction_NoDaemon(t *testing.T) {
	err := SendIPCAction(filepath.Join(t.TempDir(), "nobody.sock"), TogglePlay{})
	if err == nil || !strings.Contains(err.Error(), "connect to") {
		t.Errorf("expected connect error, got %v", err)
	}
}
