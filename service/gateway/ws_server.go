package gateway

import (
	"context"
	"net/http"
	"time"

	"NProject/logger"
	"NProject/service/bridge"
	"NProject/tools/decode"
	"NProject/tools/ids"
	"NProject/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UserResolver is the identity collaborator: it maps a connect token to a
// userID. Authentication itself lives outside this service.
type UserResolver interface {
	Resolve(ctx context.Context, token string) (userID string, err error)
}

type ServerConfig struct {
	Addr       string
	WSPath     string
	SendBuffer int

	ReadLimit  int64
	PongWait   time.Duration
	WriteWait  time.Duration
	PingPeriod time.Duration
}

func (c *ServerConfig) norm() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
}

// Server owns the socket-facing tier of one gateway process.
type Server struct {
	conf     ServerConfig
	mgr      *ConnManager
	fanout   *Fanout
	bindings *Bindings
	resolver UserResolver
	engine   *gin.Engine
	httpSrv  *http.Server
}

func NewServer(conf ServerConfig, mgr *ConnManager, fanout *Fanout, bindings *Bindings, resolver UserResolver) *Server {
	conf.norm()
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := &Server{
		conf:     conf,
		mgr:      mgr,
		fanout:   fanout,
		bindings: bindings,
		resolver: resolver,
		engine:   engine,
	}
	engine.GET(conf.WSPath, s.HandleWS)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"conns": mgr.ConnCount(), "gateway": mgr.GwID()})
	})
	return s
}

// BindBridge subscribes the local fan-out to the cross-process channel.
// Incoming envelopes become server frames delivered to every local socket
// in the matching room.
func (s *Server) BindBridge(b *bridge.Bridge) {
	relay := func(op string) bridge.Handler {
		return func(_ context.Context, env *bridge.Envelope) {
			s.fanout.BroadcastRoom(env.Room, EncodeServerFrame(op, env.Data))
		}
	}
	b.On(bridge.KindNote, bridge.EventNoteUpdate, relay(OpNoteUpdate))
	b.On(bridge.KindNote, bridge.EventTypingUpdate, relay(OpTypingUpdate))
	b.On(bridge.KindUser, bridge.EventUserOnline, relay(OpUserOnline))
	b.On(bridge.KindUser, bridge.EventUserOffline, relay(OpUserOffline))
}

// Run serves until ctx is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.conf.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	safe.SafeGo(func() {
		logger.Infof("[Gateway] listening addr=%s path=%s", s.conf.Addr, s.conf.WSPath)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	})
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutCtx)
		s.mgr.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// HandleWS upgrades the connection, resolves identity and runs the read
// loop. The writer runs in its own goroutine; the read loop never writes.
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.resolver.Resolve(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[Gateway] upgrade error: %v", err)
		return
	}

	client := NewClient(ids.GenerateString(), userID, ws, s.conf.SendBuffer)
	s.mgr.Add(client)

	ctx := context.Background()
	if err := s.bindings.HandleConnect(ctx, client); err != nil {
		logger.Errorf("[Gateway] connect conn=%s err=%v", client.ConnID, err)
		s.mgr.Remove(client)
		client.CloseLocal()
		_ = ws.Close()
		return
	}
	logger.Infof("[Gateway] connected conn=%s user=%s", client.ConnID, userID)

	safe.SafeGo(func() { s.writePump(client) })
	s.readLoop(ctx, client)

	// mandatory cleanup: the read loop exiting is the disconnect signal
	s.bindings.HandleDisconnect(ctx, client)
	_ = ws.Close()
	logger.Infof("[Gateway] disconnected conn=%s user=%s", client.ConnID, userID)
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	ws := client.Conn
	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[Gateway] peer closed conn=%s", client.ConnID)
			} else {
				logger.Infof("[Gateway] read err conn=%s err=%v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, err := ParseClientFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[Gateway] bad frame conn=%s err=%v sample=%q", client.ConnID, err, sample)
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes one client frame to its binding. Handler failures are
// logged and reported to the client; the connection stays up and no state
// change is observed.
func (s *Server) dispatch(ctx context.Context, client *Client, frame *ClientFrame) {
	var err error
	switch frame.Op {
	case OpNoteJoin:
		err = withPayload(frame, func(p *NotePayload) error { return s.bindings.HandleNoteJoin(ctx, client, p) })
	case OpNoteLeave:
		err = withPayload(frame, func(p *NotePayload) error { return s.bindings.HandleNoteLeave(ctx, client, p) })
	case OpTypingStart:
		err = withPayload(frame, func(p *NotePayload) error { return s.bindings.HandleTypingStart(ctx, client, p) })
	case OpTypingStop:
		err = withPayload(frame, func(p *NotePayload) error { return s.bindings.HandleTypingStop(ctx, client, p) })
	case OpTypingGet:
		err = withPayload(frame, func(p *NotePayload) error { return s.bindings.HandleTypingGet(ctx, client, p) })
	case OpUserWatch:
		err = withPayload(frame, func(p *WatchPayload) error { return s.bindings.HandleUserWatch(ctx, client, p) })
	case OpUserUnwatch:
		err = withPayload(frame, func(p *WatchPayload) error { return s.bindings.HandleUserUnwatch(ctx, client, p) })
	default:
		logger.Infof("[Gateway] no handler for op=%s conn=%s", frame.Op, client.ConnID)
		return
	}
	if err != nil {
		logger.Warnf("[Gateway] op=%s conn=%s err=%v", frame.Op, client.ConnID, err)
		select {
		case client.Send <- EncodeServerFrame(OpError, map[string]any{"op": frame.Op, "msg": err.Error()}):
		default:
		}
	}
}

func withPayload[T any](frame *ClientFrame, fn func(*T) error) error {
	p, err := decode.DecodeMap[T](frame.Data)
	if err != nil {
		return err
	}
	return fn(p)
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(s.conf.PingPeriod)
	defer ticker.Stop()
	ws := client.Conn
	for {
		select {
		case payload := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}
