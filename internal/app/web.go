package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served on the robot's local network
	},
}

const (
	clientBuffer = 16
	writeWait    = time.Second
)

// WebSocket message types
const (
	msgPose   = "pose"
	msgVision = "vision"
	msgReset  = "reset"
)

// wsMessage is the envelope for every websocket message in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Dashboard keeps the latest pose and vision frames, serves them over HTTP
// and streams every update to connected websocket clients.
type Dashboard struct {
	log     *zap.Logger
	onReset func(geometry.Pose2D) error

	mu      sync.RWMutex
	pose    []byte
	vision  []byte
	clients map[*wsClient]struct{}
}

// NewDashboard builds a dashboard. onReset handles reset requests from the
// browser; nil disables them.
func NewDashboard(log *zap.Logger, onReset func(geometry.Pose2D) error) *Dashboard {
	return &Dashboard{log: log, onReset: onReset, clients: make(map[*wsClient]struct{})}
}

// UpdatePose stores and broadcasts a pose frame.
func (d *Dashboard) UpdatePose(f telemetry.PoseFrame) {
	d.update(msgPose, f, &d.pose)
}

// UpdateVision stores and broadcasts a vision frame.
func (d *Dashboard) UpdateVision(f telemetry.VisionFrame) {
	d.update(msgVision, f, &d.vision)
}

func (d *Dashboard) update(kind string, v any, slot *[]byte) {
	data, err := json.Marshal(v)
	if err != nil {
		d.log.Warn("json encode error", zap.String("type", kind), zap.Error(err))
		return
	}
	msg, _ := json.Marshal(wsMessage{Type: kind, Data: data})

	d.mu.Lock()
	defer d.mu.Unlock()
	*slot = data
	for c := range d.clients {
		select {
		case c.send <- msg:
		default:
			d.log.Debug("websocket client too slow, frame dropped")
		}
	}
}

// Handler returns the HTTP routes. staticDir is served at the root when set.
func (d *Dashboard) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pose", d.serveLatest(func() []byte { return d.pose }))
	mux.HandleFunc("GET /api/vision", d.serveLatest(func() []byte { return d.vision }))
	mux.HandleFunc("POST /api/reset", d.handleResetRequest)
	mux.HandleFunc("/ws", d.handleWebSocket)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (d *Dashboard) serveLatest(get func() []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.RLock()
		data := get()
		d.mu.RUnlock()

		if data == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func (d *Dashboard) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var f telemetry.ResetFrame
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, fmt.Sprintf("invalid reset request: %v", err), http.StatusBadRequest)
		return
	}
	if err := d.reset(f.Pose); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (d *Dashboard) reset(pose geometry.Pose2D) error {
	if d.onReset == nil {
		return errors.New("pose reset not available")
	}
	d.log.Info("pose reset from dashboard", zap.Stringer("pose", pose))
	return d.onReset(pose)
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	d.mu.Lock()
	for _, latest := range []struct {
		kind string
		data []byte
	}{{msgPose, d.pose}, {msgVision, d.vision}} {
		if latest.data != nil {
			msg, _ := json.Marshal(wsMessage{Type: latest.kind, Data: latest.data})
			c.send <- msg
		}
	}
	d.clients[c] = struct{}{}
	count := len(d.clients)
	d.mu.Unlock()
	d.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", count))

	go d.writeLoop(c)
	d.readLoop(c)
}

// readLoop handles reset requests until the client goes away.
func (d *Dashboard) readLoop(c *wsClient) {
	defer func() {
		d.mu.Lock()
		delete(d.clients, c)
		d.mu.Unlock()
		close(c.send)
		d.log.Info("websocket client disconnected")
	}()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != msgReset {
			d.log.Debug("unknown websocket message", zap.String("type", msg.Type))
			continue
		}
		var f telemetry.ResetFrame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			d.log.Warn("invalid reset message", zap.Error(err))
			continue
		}
		if err := d.reset(f.Pose); err != nil {
			d.log.Warn("pose reset failed", zap.Error(err))
		}
	}
}

func (d *Dashboard) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			d.log.Debug("websocket write error", zap.Error(err))
			return
		}
	}
}

// RunWeb serves the dashboard until ctx ends.
func RunWeb(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	pub := telemetry.NewMQTTPublisher(client, false)
	dash := NewDashboard(log, func(p geometry.Pose2D) error {
		return pub.Publish(cfg.TopicResetPose, telemetry.ResetFrame{Pose: p})
	})

	if err := telemetry.SubscribeJSON(client, cfg.TopicPose, log, dash.UpdatePose); err != nil {
		return err
	}
	if err := telemetry.SubscribeJSON(client, cfg.TopicVisionDiag, log, dash.UpdateVision); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           dash.Handler("web"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("web server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
