package signalling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type PeerMetrics struct {
	UploadSpeed float64 `json:"uploadSpeed"`
	LatencyMs   float64 `json:"latencyMs"`
	SuccessRate float64 `json:"successRate"`
	LastActive  int64   `json:"lastActive"`
}

type PeerInfo struct {
	PeerID  string      `json:"peerId"`
	Metrics PeerMetrics `json:"metrics"`
}

// Message is any frame sent by the signalling server.
type Message struct {
	Type      string          `json:"type"`
	MovieID   string          `json:"movieId,omitempty"`
	QualityID string          `json:"qualityId,omitempty"`
	SegmentID string          `json:"segmentId,omitempty"`
	Peers     json.RawMessage `json:"peers,omitempty"`
	Message   string          `json:"message,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "signalling: " + e.Message
}

type Client struct {
	clientID string
	movieID  string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	replies  chan Message
	relayed  chan Message
	peers    []string
	done     chan struct{}
	closing  chan struct{}
	closer   sync.Once
	err      error
}

// Dial opens a session for clientID in movieID's swarm and waits for the
// initial peer list.
func Dial(ctx context.Context, baseURL, clientID, movieID string) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	query := parsed.Query()
	query.Set("clientId", clientID)
	query.Set("movieId", movieID)
	parsed.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		clientID: clientID,
		movieID:  movieID,
		conn:     conn,
		replies:  make(chan Message, 64),
		relayed:  make(chan Message, 64),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go c.readLoop()

	msg, err := c.await(ctx, "peerList", "")
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := json.Unmarshal(msg.Peers, &c.peers); err != nil {
		c.Close()
		return nil, fmt.Errorf("decode peer list: %w", err)
	}
	return c, nil
}

func (c *Client) ID() string { return c.clientID }

// Peers is the swarm as reported when the session opened.
func (c *Client) Peers() []string { return c.peers }

// Relayed yields RTC messages forwarded from other peers.
func (c *Client) Relayed() <-chan Message { return c.relayed }

func (c *Client) Close() error {
	c.closer.Do(func() { close(c.closing) })
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) WhoHas(ctx context.Context, qualityID, segmentID string) ([]PeerInfo, error) {
	if err := c.write(map[string]any{
		"type":      "whoHas",
		"movieId":   c.movieID,
		"qualityId": qualityID,
		"segmentId": segmentID,
	}); err != nil {
		return nil, err
	}
	msg, err := c.await(ctx, "whoHasReply", segmentID)
	if err != nil {
		return nil, err
	}
	var peers []PeerInfo
	if err := json.Unmarshal(msg.Peers, &peers); err != nil {
		return nil, fmt.Errorf("decode who has reply: %w", err)
	}
	return peers, nil
}

type Report struct {
	QualityID   string
	SegmentID   string
	Source      string
	UploadSpeed float64
	LatencyMs   float64
}

func (c *Client) ReportSegment(ctx context.Context, r Report) error {
	if err := c.write(map[string]any{
		"type":        "reportSegment",
		"movieId":     c.movieID,
		"qualityId":   r.QualityID,
		"segmentId":   r.SegmentID,
		"source":      r.Source,
		"uploadSpeed": r.UploadSpeed,
		"latencyMs":   r.LatencyMs,
	}); err != nil {
		return err
	}
	_, err := c.await(ctx, "reportSegmentAck", r.SegmentID)
	return err
}

func (c *Client) RemoveSegment(qualityID, segmentID string) error {
	return c.write(map[string]any{
		"type":      "removeSegment",
		"movieId":   c.movieID,
		"qualityId": qualityID,
		"segmentId": segmentID,
	})
}

// Signal sends an RTC negotiation message (rtcOffer, rtcAnswer or
// iceCandidate) to another peer.
func (c *Client) Signal(msgType, to string, payload any) error {
	return c.write(map[string]any{
		"type":    msgType,
		"to":      to,
		"payload": payload,
	})
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.write(map[string]any{"type": "ping"}); err != nil {
		return err
	}
	_, err := c.await(ctx, "pong", "")
	return err
}

func (c *Client) write(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "rtcOffer", "rtcAnswer", "iceCandidate":
			select {
			case c.relayed <- msg:
			default:
			}
		default:
			select {
			case c.replies <- msg:
			case <-c.closing:
				return
			}
		}
	}
}

// await returns the next reply of msgType, skipping unrelated replies. An
// error frame from the server fails the wait.
func (c *Client) await(ctx context.Context, msgType, segmentID string) (Message, error) {
	for {
		select {
		case msg := <-c.replies:
			if msg.Type == "error" {
				return msg, &ServerError{Message: msg.Message}
			}
			if msg.Type == msgType && (segmentID == "" || msg.SegmentID == segmentID) {
				return msg, nil
			}
		case <-c.done:
			if c.err != nil {
				return Message{}, c.err
			}
			return Message{}, errors.New("signalling connection closed")
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}
