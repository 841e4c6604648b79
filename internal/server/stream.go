package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treefix50/classreplay/internal/replay"
)

const (
	writeWait       = 5 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	streamBuffer    = 256
	closeSlowReader = "snapshot stream overflow"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream pushes every committed snapshot of a session, in order,
// starting with the current one. A client that falls streamBuffer snapshots
// behind is disconnected; it never sees a gap.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	up := upgrader
	if s.opts.CORSEnabled {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := newStreamSubscriber()
	h, err := sess.Subscribe(r.Context(), sub.push)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "replay closed"),
			time.Now().Add(writeWait))
		return
	}
	defer sess.Unsubscribe(h)

	log := s.log.With().Str("session", sess.ID()).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("snapshot stream opened")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap := <-sub.snapshots:
			data, err := json.Marshal(snap)
			if err != nil {
				log.Error().Err(err).Msg("encode snapshot")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-sub.overflow:
			log.Warn().Msg("slow snapshot reader disconnected")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, closeSlowReader),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay closed"),
				time.Now().Add(writeWait))
			return
		case <-readDone:
			return
		}
	}
}

// streamSubscriber buffers snapshots between the session's event loop and
// the connection writer. push never blocks.
type streamSubscriber struct {
	snapshots chan replay.Snapshot
	overflow  chan struct{}
	once      sync.Once
}

func newStreamSubscriber() *streamSubscriber {
	return &streamSubscriber{
		snapshots: make(chan replay.Snapshot, streamBuffer),
		overflow:  make(chan struct{}),
	}
}

func (sub *streamSubscriber) push(snap replay.Snapshot) {
	select {
	case <-sub.overflow:
	case sub.snapshots <- snap:
	default:
		sub.once.Do(func() { close(sub.overflow) })
	}
}
