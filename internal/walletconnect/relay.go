package walletconnect

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Relay close codes that mean the credentials or pairing were refused.
const (
	closeUnauthorized = 3000
	closeInvalidKey   = 4001
)

type rpcMessage struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *peer.RPCError  `json:"error,omitempty"`
}

type subscriptionData struct {
	ID   string `json:"id"`
	Data struct {
		Topic       string `json:"topic"`
		Message     string `json:"message"`
		PublishedAt int64  `json:"publishedAt"`
		Tag         int    `json:"tag"`
	} `json:"data"`
}

type publishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Tag     int    `json:"tag"`
	Prompt  bool   `json:"prompt"`
}

var idCounter atomic.Uint64

// payloadID returns a time-based JSON-RPC id, unique within the process.
func payloadID() uint64 {
	return uint64(time.Now().UnixMilli())*1000 + idCounter.Add(1)%1000
}

// relay is a JSON-RPC connection to the relay server. A single mutex
// serializes writes; replies are matched to requests by id.
type relay struct {
	dialer    *websocket.Dialer
	urlFunc   func() (string, error)
	onMessage func(topic, message string)
	onError   func(error)
	log       zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
	gen     uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcMessage
}

func newRelay(dialer *websocket.Dialer, urlFunc func() (string, error), log zerolog.Logger) *relay {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &relay{
		dialer:  dialer,
		urlFunc: urlFunc,
		log:     log,
		pending: make(map[uint64]chan rpcMessage),
	}
}

// connect dials the relay, replacing any previous connection.
func (r *relay) connect(ctx context.Context) error {
	const op = "relay_connect"
	u, err := r.urlFunc()
	if err != nil {
		return werrors.Auth(op, "unable to build relay auth token", err)
	}

	conn, resp, err := r.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return classify(op, resp, err)
	}

	r.writeMu.Lock()
	old := r.conn
	r.conn = conn
	r.gen++
	gen := r.gen
	r.writeMu.Unlock()

	if old != nil {
		old.Close()
	}

	go r.readLoop(conn, gen)
	return nil
}

func (r *relay) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.writeMu.Lock()
			current := r.gen == gen
			r.writeMu.Unlock()
			if current && r.onError != nil {
				r.onError(classify("relay_read", nil, err))
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn().Err(err).Msg("dropping malformed relay message")
			continue
		}

		if msg.Method == "" {
			r.deliver(msg)
			continue
		}

		if msg.Method == "irn_subscription" {
			if err := r.write(rpcMessage{ID: msg.ID, JSONRPC: "2.0", Result: json.RawMessage("true")}); err != nil {
				r.log.Warn().Err(err).Msg("failed to ack subscription message")
			}
			var sub subscriptionData
			if err := json.Unmarshal(msg.Params, &sub); err != nil {
				r.log.Warn().Err(err).Msg("malformed irn_subscription params")
				continue
			}
			if r.onMessage != nil {
				r.onMessage(sub.Data.Topic, sub.Data.Message)
			}
		}
	}
}

func (r *relay) deliver(msg rpcMessage) {
	r.pendingMu.Lock()
	ch, ok := r.pending[msg.ID]
	delete(r.pending, msg.ID)
	r.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

func (r *relay) write(msg rpcMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return werrors.New(werrors.KindTransport, "relay_write", "relay not connected")
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		return classify("relay_write", nil, err)
	}
	return nil
}

// call sends a relay RPC and waits for its reply.
func (r *relay) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg := rpcMessage{ID: payloadID(), JSONRPC: "2.0", Method: method, Params: raw}

	ch := make(chan rpcMessage, 1)
	r.pendingMu.Lock()
	r.pending[msg.ID] = ch
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, msg.ID)
		r.pendingMu.Unlock()
	}()

	if err := r.write(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return nil, werrors.Transport(method, fmt.Errorf("relay error %d: %s", reply.Error.Code, reply.Error.Message))
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, werrors.Wrap(ctx.Err(), werrors.KindTimeout, method, "no relay reply")
	}
}

func (r *relay) subscribe(ctx context.Context, topic string) (string, error) {
	res, err := r.call(ctx, "irn_subscribe", map[string]string{"topic": topic})
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(res, &id); err != nil {
		return "", werrors.Transport("irn_subscribe", err)
	}
	return id, nil
}

func (r *relay) unsubscribe(ctx context.Context, topic, subscriptionID string) error {
	_, err := r.call(ctx, "irn_unsubscribe", map[string]string{"topic": topic, "id": subscriptionID})
	return err
}

func (r *relay) publish(ctx context.Context, p publishParams) error {
	_, err := r.call(ctx, "irn_publish", p)
	return err
}

func (r *relay) close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.gen++
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// classify maps transport failures onto the error kinds the session
// manager switches on. Refused credentials and abnormal closes are KindAuth.
func classify(op string, resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return werrors.Auth(op, "Unauthorized: invalid key", err)
	}
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		switch ce.Code {
		case closeUnauthorized, closeInvalidKey, websocket.ClosePolicyViolation, websocket.CloseAbnormalClosure:
			return werrors.Auth(op, fmt.Sprintf("WebSocket connection closed abnormally with code %d", ce.Code), err)
		}
	}
	return werrors.Transport(op, err)
}
