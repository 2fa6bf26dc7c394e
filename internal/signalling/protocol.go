package signalling

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/kalash/swarm-cdn/internal/peerstats"
)

// Inbound message types, normalised by normalizeType.
const (
	TypeWhoHas        = "whohas"
	TypeReportSegment = "reportsegment"
	TypeRemoveSegment = "removesegment"
	TypeRTCOffer      = "rtcoffer"
	TypeRTCAnswer     = "rtcanswer"
	TypeICECandidate  = "icecandidate"
	TypePing          = "ping"
)

// Outbound message types.
const (
	TypePeerList         = "peerList"
	TypeWhoHasReply      = "whoHasReply"
	TypeReportSegmentAck = "reportSegmentAck"
	TypePong             = "pong"
	TypeError            = "error"
)

// normalizeType matches WHO_HAS, whoHas and who_has alike.
func normalizeType(t string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(t), "_", ""))
}

type inboundMessage struct {
	Type        string          `json:"type"`
	MovieID     string          `json:"movieId"`
	QualityID   string          `json:"qualityId"`
	SegmentID   string          `json:"segmentId"`
	Source      string          `json:"source"`
	UploadSpeed float64         `json:"uploadSpeed"`
	Speed       float64         `json:"speed"`
	LatencyMs   float64         `json:"latencyMs"`
	Latency     float64         `json:"latency"`
	To          string          `json:"to"`
	Payload     json.RawMessage `json:"payload"`
	SDP         json.RawMessage `json:"sdp"`
	Candidate   json.RawMessage `json:"candidate"`
}

func (m inboundMessage) uploadSpeed() float64 {
	if m.UploadSpeed != 0 {
		return m.UploadSpeed
	}
	return m.Speed
}

func (m inboundMessage) latencyMs() float64 {
	if m.LatencyMs != 0 {
		return m.LatencyMs
	}
	return m.Latency
}

type PeerInfo struct {
	PeerID  string            `json:"peerId"`
	Metrics peerstats.Metrics `json:"metrics"`
}

type peerListMessage struct {
	Type    string   `json:"type"`
	MovieID string   `json:"movieId"`
	Peers   []string `json:"peers"`
}

type whoHasReplyMessage struct {
	Type      string     `json:"type"`
	QualityID string     `json:"qualityId,omitempty"`
	SegmentID string     `json:"segmentId"`
	Peers     []PeerInfo `json:"peers"`
}

type reportSegmentAckMessage struct {
	Type      string `json:"type"`
	SegmentID string `json:"segmentId"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string `json:"type"`
}

// Envelope is an RTC negotiation message forwarded from one peer to another.
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	MovieID   string          `json:"movieId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func relayType(normalized string) string {
	switch normalized {
	case TypeRTCOffer:
		return "rtcOffer"
	case TypeRTCAnswer:
		return "rtcAnswer"
	default:
		return "iceCandidate"
	}
}
