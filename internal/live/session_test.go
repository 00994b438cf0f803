// ABOUTME: Tests for the Live transport session
// ABOUTME: Uses an httptest WebSocket server to exercise the duplex protocol
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

var upgrader = websocket.Upgrader{}

// startServer launches a test WebSocket server. The handler receives the
// upgraded connection; the server closes with the test.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		APIKey:  "test-key",
		Model:   "gemini-2.5-flash-native-audio-preview",
		Voice:   "Zephyr",
		BaseURL: wsURL(srv),
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

func TestConnectSendsSetup(t *testing.T) {
	setupCh := make(chan setupMessage, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		var msg setupMessage
		readJSON(t, conn, &msg)
		setupCh <- msg
		sendSetupComplete(t, conn)
		time.Sleep(100 * time.Millisecond)
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	msg := <-setupCh
	if msg.Setup.Model != "models/gemini-2.5-flash-native-audio-preview" {
		t.Errorf("unexpected model: %s", msg.Setup.Model)
	}
	if len(msg.Setup.GenerationConfig.ResponseModalities) != 1 ||
		msg.Setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("unexpected modalities: %v", msg.Setup.GenerationConfig.ResponseModalities)
	}
	if msg.Setup.GenerationConfig.SpeechConfig == nil ||
		msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Error("expected voice Zephyr in speech config")
	}

	select {
	case <-sess.Opened():
	case <-time.After(2 * time.Second):
		t.Fatal("session never opened")
	}
}

func TestConnectRequiresAPIKey(t *testing.T) {
	_, err := Connect(context.Background(), Config{Model: "m"})
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestSendQueuesUntilOpen(t *testing.T) {
	release := make(chan struct{})
	inputCh := make(chan realtimeInputMessage, 4)
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)

		<-release
		sendSetupComplete(t, conn)

		for i := 0; i < 3; i++ {
			var msg realtimeInputMessage
			readJSON(t, conn, &msg)
			inputCh <- msg
		}
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	// Sends before setupComplete must queue, not drop or fail.
	for i := byte(0); i < 3; i++ {
		frame := audio.Frame{Data: []byte{i, i + 1}, MimeType: audio.InputMimeType}
		if err := sess.Send(frame); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	close(release)

	// Flushed frames must arrive in send order.
	for i := byte(0); i < 3; i++ {
		select {
		case msg := <-inputCh:
			chunk := msg.RealtimeInput.MediaChunks[0]
			if chunk.MIMEType != audio.InputMimeType {
				t.Errorf("frame %d: unexpected mime %s", i, chunk.MIMEType)
			}
			data, err := audio.Decode(chunk.Data)
			if err != nil {
				t.Fatalf("frame %d: decode: %v", i, err)
			}
			if data[0] != i {
				t.Errorf("frame order violated: expected first byte %d, got %d", i, data[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestSendOrderAcrossOpenTransition(t *testing.T) {
	const total = 20
	release := make(chan struct{})
	got := make(chan byte, total)
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)

		<-release
		sendSetupComplete(t, conn)

		for i := 0; i < total; i++ {
			var msg realtimeInputMessage
			readJSON(t, conn, &msg)
			data, err := audio.Decode(msg.RealtimeInput.MediaChunks[0].Data)
			if err != nil || len(data) == 0 {
				t.Errorf("frame %d: bad payload: %v", i, err)
				return
			}
			got <- data[0]
		}
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	// One goroutine sends a numbered sequence; the server acknowledges
	// setup partway through, so the tail of the sequence races the flush
	// of the queued head.
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for i := byte(0); i < total; i++ {
			frame := audio.Frame{Data: []byte{i}, MimeType: audio.InputMimeType}
			if err := sess.Send(frame); err != nil {
				t.Errorf("send %d failed: %v", i, err)
				return
			}
			if i == 4 {
				close(release)
			}
		}
	}()

	for i := byte(0); i < total; i++ {
		select {
		case b := <-got:
			if b != i {
				t.Fatalf("sequence broken: expected frame %d, got %d", i, b)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
	<-sendDone
}

func TestInboundAudioFrames(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     audio.Encode(payload),
						}},
					},
				},
			},
		})
		time.Sleep(200 * time.Millisecond)
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	select {
	case frame := <-sess.Frames():
		if frame.MimeType != "audio/pcm;rate=24000" {
			t.Errorf("unexpected mime: %s", frame.MimeType)
		}
		if len(frame.Data) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(frame.Data))
		}
		for i := range payload {
			if frame.Data[i] != payload[i] {
				t.Errorf("byte %d mismatch", i)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame")
	}
}

func TestInboundMessageWithoutAudio(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		// Text-only turn: no frame should be emitted.
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{{"text": "hello"}},
				},
			},
		})
		time.Sleep(200 * time.Millisecond)
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	select {
	case frame, ok := <-sess.Frames():
		if ok {
			t.Fatalf("unexpected frame: %v", frame)
		}
	case <-time.After(300 * time.Millisecond):
		// Expected: nothing arrived.
	}
}

func TestCloseUnblocksUndrainedInbound(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		// Flood well past the frame buffer capacity.
		for i := 0; i < 100; i++ {
			writeJSON(t, conn, map[string]any{
				"serverContent": map[string]any{
					"modelTurn": map[string]any{
						"parts": []map[string]any{
							{"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     audio.Encode([]byte{byte(i)}),
							}},
						},
					},
				},
			})
		}
		time.Sleep(2 * time.Second)
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case <-sess.Opened():
	case <-time.After(2 * time.Second):
		t.Fatal("session never opened")
	}

	// Nothing drains Frames: inbound delivery fills the buffer and blocks.
	time.Sleep(200 * time.Millisecond)
	sess.Close()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop never exited after close with undrained frames")
	}
}

func TestRemoteErrorSurfaces(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 8, "message": "quota exceeded"},
		})
		conn.Close()
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished")
	}

	if sess.Err() == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(sess.Err().Error(), "quota exceeded") {
		t.Errorf("unexpected error: %v", sess.Err())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		time.Sleep(time.Second)
	})

	sess, err := Connect(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := sess.Send(audio.Frame{Data: []byte{1}}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after close, got %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop never exited after close")
	}
	if sess.Err() != nil {
		t.Errorf("clean close should not record an error, got %v", sess.Err())
	}
}

func TestSetupAckTimeout(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		// Never acknowledge; the session must give up on its own.
		time.Sleep(2 * time.Second)
	})

	cfg := testConfig(srv)
	cfg.ConnectTimeout = 200 * time.Millisecond

	sess, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Close()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never gave up waiting for setup ack")
	}
	if !errors.Is(sess.Err(), ErrSetupTimeout) {
		t.Errorf("expected ErrSetupTimeout, got %v", sess.Err())
	}
}

func TestConnectTimeout(t *testing.T) {
	// A plain HTTP server that never upgrades leaves the dial hanging on
	// a failed handshake; the configured timeout must bound it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:         "test-key",
		Model:          "m",
		BaseURL:        wsURL(srv),
		ConnectTimeout: 200 * time.Millisecond,
	}

	start := time.Now()
	_, err := Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("connect did not honor timeout: took %v", elapsed)
	}
}
