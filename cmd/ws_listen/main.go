package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ws_listen connects to the scratchbrainz renderer websocket and prints what
// a renderer would draw. It can also send one action and keep listening.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type armPose struct {
	Angle float64 `json:"angle"`
	Level float64 `json:"level"`
}

type spin struct {
	PeriodMS float64 `json:"period_ms"`
	Phase    float64 `json:"phase"`
	Reverse  bool    `json:"reverse"`
}

type frame struct {
	Tonearm *armPose `json:"tonearm"`
	Platter *float64 `json:"platter"`
	Spin    *spin    `json:"spin"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:8765/ws", "scratchbrainz renderer websocket URL")
		frames = flag.Bool("frames", true, "Print frame messages (set false to see only state)")
		send   = flag.String("send", "", `Send one action envelope on connect (e.g. '{"type":"set_speed","data":{"rpm":45}}')`)
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	if *send != "" {
		if !json.Valid([]byte(*send)) {
			log.Fatalf("-send is not valid JSON")
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, []byte(*send))
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send action: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Frames keep the connection alive as well as pongs.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				handleTextMessage(message, *frames)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one server message.
func handleTextMessage(message []byte, showFrames bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "frame":
		if showFrames {
			printFrame(env.Data)
		}
	case "state_init", "state":
		var pretty any
		if err := json.Unmarshal(env.Data, &pretty); err != nil {
			fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", env.Type, string(out))
	default:
		fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
	}
}

func printFrame(data json.RawMessage) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Printf("[FRAME] %s\n", string(data))
		return
	}
	line := "[FRAME]"
	if f.Tonearm != nil {
		line += fmt.Sprintf(" arm=%.2f° level=%.2f", f.Tonearm.Angle, f.Tonearm.Level)
	}
	if f.Platter != nil {
		line += fmt.Sprintf(" platter=%.1f°", *f.Platter)
	}
	if f.Spin != nil {
		dir := "fwd"
		if f.Spin.Reverse {
			dir = "rev"
		}
		line += fmt.Sprintf(" spin=%.0fms/%s from %.1f°", f.Spin.PeriodMS, dir, f.Spin.Phase)
	}
	fmt.Println(line)
}
