package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Server message types.
const (
	TypeBundle       = "bundle"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypePong         = "pong"
)

// ClientMessage is what a websocket peer sends.
//
//	{"action":"subscribe","symbol":"AAPL","tf":"5m","limit":300,"indicators":"sma20,rsi:14"}
type ClientMessage struct {
	Action     string            `json:"action"`
	ReqID      string            `json:"req_id,omitempty"`
	Symbol     string            `json:"symbol"`
	TF         Timeframe         `json:"tf"`
	Limit      int               `json:"limit,omitempty"`
	Preset     string            `json:"preset,omitempty"`
	Indicators string            `json:"indicators,omitempty"`
	Config     *indicator.Config `json:"config,omitempty"`
}

// UnmarshalJSON decodes a supplied config on top of the defaults.
func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	type plain ClientMessage
	aux := struct {
		*plain
		Config json.RawMessage `json:"config,omitempty"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Config) == 0 || string(aux.Config) == "null" {
		m.Config = nil
		return nil
	}
	cfg := indicator.DefaultConfig()
	if err := json.Unmarshal(aux.Config, &cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	m.Config = &cfg
	return nil
}

// Request converts a subscribe message into a service request.
func (m *ClientMessage) Request() service.Request {
	return service.Request{
		Symbol:     m.Symbol,
		TF:         int(m.TF),
		Limit:      m.Limit,
		Preset:     m.Preset,
		Indicators: m.Indicators,
		Config:     m.Config,
	}
}

// Timeframe accepts either seconds (300) or a label ("5m").
type Timeframe int

func (tf *Timeframe) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*tf = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := model.ParseTF(s)
		if err != nil {
			return err
		}
		*tf = Timeframe(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tf: %w", err)
	}
	*tf = Timeframe(n)
	return nil
}

// ServerMessage is what the hub sends to a peer.
type ServerMessage struct {
	Type   string            `json:"type"`
	ReqID  string            `json:"req_id,omitempty"`
	SubID  string            `json:"sub_id,omitempty"`
	Symbol string            `json:"symbol,omitempty"`
	TF     int               `json:"tf,omitempty"`
	Seq    int64             `json:"seq,omitempty"` // per subscription, starts at 1
	Data   *service.Response `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
	Kind   string            `json:"kind,omitempty"` // invalid | not_found | internal
	TS     int64             `json:"ts,omitempty"`   // server unix millis
}
