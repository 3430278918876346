package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	applog "freqsink/internal/log"
	"freqsink/internal/sink"
)

// wsFrame is the JSON shape sent to plot clients. Rows 0..nrows-2 are
// per-channel spectra in dB; the last row is the frequency axis.
type wsFrame struct {
	CenterFreq float64     `json:"center_freq"`
	Bandwidth  float64     `json:"bandwidth"`
	NumRows    int         `json:"nrows"`
	RowLen     int         `json:"row_len"`
	Rows       [][]float32 `json:"rows"`
}

// WebSocketWriter serves frames to any number of connected WebSocket
// clients. Frames are broadcast as JSON; slow clients are dropped
// rather than allowed to stall the publisher.
type WebSocketWriter struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan wsFrame
	server    *http.Server
}

// NewWebSocketWriter starts an HTTP server on addr with a /frames
// endpoint that upgrades to WebSocket.
func NewWebSocketWriter(addr string) *WebSocketWriter {
	w := &WebSocketWriter{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local plot clients, any origin
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan wsFrame, 64),
	}
	w.start()
	return w
}

func (w *WebSocketWriter) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", w.handleUpgrade)

	w.server = &http.Server{
		Addr:    w.addr,
		Handler: mux,
	}

	go func() {
		applog.Infof("WebSocketWriter: serving frames on %s/frames", w.addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("WebSocketWriter: server error: %v", err)
		}
	}()

	go w.handleBroadcasts()
}

func (w *WebSocketWriter) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		applog.Errorf("WebSocketWriter: upgrade error: %v", err)
		return
	}

	w.clientsMu.Lock()
	w.clients[conn] = true
	total := len(w.clients)
	w.clientsMu.Unlock()
	applog.Infof("WebSocketWriter: client connected, total: %d", total)

	go func() {
		// Block until the client goes away.
		_, _, err := conn.ReadMessage()
		if err != nil {
			w.clientsMu.Lock()
			delete(w.clients, conn)
			total := len(w.clients)
			w.clientsMu.Unlock()
			conn.Close()
			applog.Infof("WebSocketWriter: client disconnected, total: %d", total)
		}
	}()
}

func (w *WebSocketWriter) handleBroadcasts() {
	for frame := range w.broadcast {
		w.clientsMu.Lock()
		for client := range w.clients {
			if err := client.WriteJSON(frame); err != nil {
				applog.Warnf("WebSocketWriter: dropping client: %v", err)
				client.Close()
				delete(w.clients, client)
			}
		}
		w.clientsMu.Unlock()
	}
}

// WriteFrame queues a frame for broadcast. When the broadcast buffer
// is full the frame is dropped; plot clients prefer fresh data over
// backpressure.
func (w *WebSocketWriter) WriteFrame(f *sink.Frame) error {
	msg := wsFrame{
		CenterFreq: f.CenterFreq,
		Bandwidth:  f.Bandwidth,
		NumRows:    f.NumRows(),
		RowLen:     f.RowLen(),
		Rows:       f.Rows,
	}
	select {
	case w.broadcast <- msg:
	default:
	}
	return nil
}

// Close disconnects all clients and shuts down the server.
func (w *WebSocketWriter) Close() error {
	applog.Infof("WebSocketWriter: closing")

	w.clientsMu.Lock()
	for client := range w.clients {
		client.Close()
	}
	w.clients = make(map[*websocket.Conn]bool)
	w.clientsMu.Unlock()

	close(w.broadcast)

	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// Ensure WebSocketWriter satisfies the interface at compile time.
var _ FrameWriter = (*WebSocketWriter)(nil)
