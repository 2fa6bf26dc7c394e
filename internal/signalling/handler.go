package signalling

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

const (
	defaultMessageRate  = 50
	defaultMessageBurst = 100
	disconnectTimeout   = 5 * time.Second
)

type HandlerConfig struct {
	MessageRate  float64
	MessageBurst int
}

// Handler upgrades swarm clients to websocket sessions and dispatches their
// messages to the Service.
type Handler struct {
	cfg      HandlerConfig
	svc      *Service
	sessions *Sessions
	relay    *Relay
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	base     context.Context
	cancel   context.CancelFunc
}

func NewHandler(svc *Service, sessions *Sessions, relay *Relay, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = defaultMessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = defaultMessageBurst
	}
	base, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:      cfg,
		svc:      svc,
		sessions: sessions,
		relay:    relay,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		base:   base,
		cancel: cancel,
	}
}

// Close ends every open session.
func (h *Handler) Close() {
	h.cancel()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	movieID := q.Get("movieId")
	if movieID == "" {
		movieID = q.Get("streamId")
	}
	sess, err := NewSession(q.Get("clientId"), movieID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !segment.IsSafeIdentifier(sess.ClientID) || !segment.IsValidMovieID(sess.MovieID) {
		http.Error(w, "invalid clientId or movieId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("peer", sess.ClientID).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(h.base)
	conn := NewConnection(sess, ws)
	if prev := h.sessions.Register(conn); prev != nil {
		prev.Conn.Close()
	}
	h.sessionGauge(1)
	defer func() {
		cancel()
		h.sessionGauge(-1)
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		if h.sessions.Unregister(conn) {
			h.svc.HandleDisconnect(dctx, sess.ClientID, sess.MovieID)
			return
		}
		// Replaced by a newer connection. If that one watches another movie,
		// this movie's swarm still lists the client.
		if current, _ := h.sessions.MovieOf(sess.ClientID); current != sess.MovieID {
			h.svc.LeaveMovie(dctx, sess.ClientID, sess.MovieID)
		}
	}()

	go conn.WriteLoop(ctx)

	peers, err := h.svc.RegisterClient(ctx, sess)
	if err != nil {
		logging.Warn().Err(err).Str("peer", sess.ClientID).Msg("register client failed")
		peers = []string{}
	}
	h.send(ctx, conn, peerListMessage{Type: TypePeerList, MovieID: sess.MovieID, Peers: peers})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
	err = conn.ReadLoop(func(raw []byte) {
		if !limiter.Allow() {
			h.count("ratelimited", "dropped")
			h.sendError(ctx, conn, "rate limit exceeded")
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.count("invalid", "error")
			h.sendError(ctx, conn, "malformed message")
			return
		}
		h.dispatch(ctx, conn, msg)
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Debug().Err(err).Str("peer", sess.ClientID).Msg("read loop ended")
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, msg inboundMessage) {
	sess := conn.Session
	typ := normalizeType(msg.Type)
	switch typ {
	case TypeWhoHas:
		if msg.SegmentID == "" {
			h.reject(ctx, conn, typ, "segmentId is required")
			return
		}
		movieID := msg.MovieID
		if movieID == "" {
			movieID = sess.MovieID
		}
		peers, err := h.svc.WhoHas(ctx, movieID, msg.QualityID, msg.SegmentID)
		if err != nil {
			logging.Warn().Err(err).Str("movie", movieID).Str("segment", msg.SegmentID).Msg("who has lookup failed")
		}
		h.count(typ, "ok")
		h.send(ctx, conn, whoHasReplyMessage{Type: TypeWhoHasReply, QualityID: msg.QualityID, SegmentID: msg.SegmentID, Peers: peers})

	case TypeReportSegment:
		if msg.SegmentID == "" {
			h.reject(ctx, conn, typ, "segmentId is required")
			return
		}
		err := h.svc.ReportSegment(ctx, sess, Report{
			MovieID:     msg.MovieID,
			QualityID:   msg.QualityID,
			SegmentID:   msg.SegmentID,
			Source:      msg.Source,
			UploadSpeed: msg.uploadSpeed(),
			LatencyMs:   msg.latencyMs(),
		})
		if err != nil {
			logging.Warn().Err(err).Str("peer", sess.ClientID).Str("segment", msg.SegmentID).Msg("report segment failed")
			h.reject(ctx, conn, typ, "report failed")
			return
		}
		h.count(typ, "ok")
		h.send(ctx, conn, reportSegmentAckMessage{Type: TypeReportSegmentAck, SegmentID: msg.SegmentID})

	case TypeRemoveSegment:
		if msg.SegmentID == "" {
			h.reject(ctx, conn, typ, "segmentId is required")
			return
		}
		if err := h.svc.RemoveSegment(ctx, sess, msg.MovieID, msg.QualityID, msg.SegmentID); err != nil {
			logging.Warn().Err(err).Str("peer", sess.ClientID).Str("segment", msg.SegmentID).Msg("remove segment failed")
			h.count(typ, "error")
			return
		}
		h.count(typ, "ok")

	case TypeRTCOffer, TypeRTCAnswer, TypeICECandidate:
		if msg.To == "" {
			h.reject(ctx, conn, typ, "to is required")
			return
		}
		env := Envelope{
			Type:      relayType(typ),
			From:      sess.ClientID,
			To:        msg.To,
			MovieID:   sess.MovieID,
			Payload:   msg.Payload,
			SDP:       msg.SDP,
			Candidate: msg.Candidate,
		}
		if h.relay == nil {
			h.reject(ctx, conn, typ, "relay unavailable")
			return
		}
		if err := h.relay.Forward(ctx, env); err != nil {
			logging.Debug().Err(err).Str("from", env.From).Str("to", env.To).Msg("relay failed")
			h.reject(ctx, conn, typ, "peer not reachable")
			return
		}
		h.count(typ, "ok")

	case TypePing:
		if err := h.svc.Touch(ctx, sess); err != nil {
			logging.Debug().Err(err).Str("peer", sess.ClientID).Msg("touch failed")
		}
		h.count(typ, "ok")
		h.send(ctx, conn, pongMessage{Type: TypePong})

	default:
		h.reject(ctx, conn, "unknown", "unknown message type: "+msg.Type)
	}
}

func (h *Handler) send(ctx context.Context, conn *Connection, msg any) {
	if err := conn.Send(ctx, msg); err != nil {
		logging.Debug().Err(err).Str("peer", conn.Session.ClientID).Msg("send failed")
	}
}

func (h *Handler) reject(ctx context.Context, conn *Connection, typ, reason string) {
	h.count(typ, "error")
	h.sendError(ctx, conn, reason)
}

func (h *Handler) sendError(ctx context.Context, conn *Connection, reason string) {
	h.send(ctx, conn, errorMessage{Type: TypeError, Message: reason})
}

func (h *Handler) count(typ, status string) {
	if h.metrics != nil {
		h.metrics.SignallingMessages.WithLabelValues(typ, status).Inc()
	}
}

func (h *Handler) sessionGauge(delta float64) {
	if h.metrics != nil {
		h.metrics.SignallingSessions.Add(delta)
	}
}
