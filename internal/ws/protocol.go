package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
)

// Client message types
const (
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
	typePing        = "ping"
)

// Server message types
const (
	typeConnected = "connected"
	typeAck       = "ack"
	typePong      = "pong"
	typeError     = "error"
	typeSnapshot  = "snapshot"
)

type clientMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol,omitempty"`
	AckID  *uint64 `json:"ackId,omitempty"`
}

type connectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type ackMessage struct {
	Type    string  `json:"type"`
	AckID   *uint64 `json:"ackId,omitempty"`
	Symbol  string  `json:"symbol"`
	Success bool    `json:"success"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SnapshotEvent announces a newly stored snapshot with its by-strike summary.
type SnapshotEvent struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	FetchedAt time.Time       `json:"fetched_at"`
	Contracts int             `json:"contracts"`
	Exposure  *exposure.Stats `json:"exposure,omitempty"`
}

// parseClientMessage parses a JSON-encoded client message.
func parseClientMessage(raw []byte) (*clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal client message: %w", err)
	}

	switch msg.Type {
	case typeSubscribe, typeUnsubscribe, typePing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

func buildConnectedMessage(connectionID string) []byte {
	data, _ := json.Marshal(connectedMessage{Type: typeConnected, ConnectionID: connectionID})
	return data
}

func buildAckMessage(ackID *uint64, symbol string, success bool) []byte {
	data, _ := json.Marshal(ackMessage{Type: typeAck, AckID: ackID, Symbol: symbol, Success: success})
	return data
}

func buildPongMessage() []byte {
	data, _ := json.Marshal(map[string]string{"type": typePong})
	return data
}

func buildErrorMessage(reason string) []byte {
	data, _ := json.Marshal(errorMessage{Type: typeError, Error: reason})
	return data
}
