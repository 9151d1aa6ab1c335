package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrChannelClosed emit / subscribe after Close
var ErrChannelClosed = errors.New("event channel closed")

// WebsocketOptions definition dial setting
type WebsocketOptions struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// WebsocketChannel EventChannel over a single websocket connection
type WebsocketChannel struct {
	conn         *websocket.Conn
	sessionID    string
	writeTimeout time.Duration

	writeMu    sync.Mutex
	subscribed bool
	closed     chan struct{}
	closeOnce  sync.Once
}

// DialWebsocket 建立 session 的 socket 連線, 連線 url 會帶上 session_id
func DialWebsocket(ctx context.Context, opts WebsocketOptions) (*WebsocketChannel, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	sessionID := uuid.NewString()
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	logger.Log.Info("socket connected", zap.String("session_id", sessionID))

	return &WebsocketChannel{
		conn:         conn,
		sessionID:    sessionID,
		writeTimeout: opts.WriteTimeout,
		closed:       make(chan struct{}),
	}, nil
}

// SessionID id sent on the handshake
func (w *WebsocketChannel) SessionID() string {
	return w.sessionID
}

// Emit 寫入一個 event, gorilla 的 conn 同時只能有一個 writer
func (w *WebsocketChannel) Emit(ctx context.Context, event domain.Event) error {
	select {
	case <-w.closed:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Time{}
	if w.writeTimeout > 0 {
		deadline = time.Now().Add(w.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe 開一個 goroutine 讀取 event, 只能訂閱一次
func (w *WebsocketChannel) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	w.writeMu.Lock()
	if w.subscribed {
		w.writeMu.Unlock()
		return errors.New("event channel already subscribed")
	}
	w.subscribed = true
	w.writeMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-w.closed:
		}
	}()

	go func() {
		for {
			_, data, err := w.conn.ReadMessage()
			if err != nil {
				select {
				case <-w.closed:
				default:
					logger.Log.Warn("socket read stopped", zap.String("session_id", w.sessionID), zap.Error(err))
					_ = w.Close()
				}
				return
			}

			event, err := DecodeEvent(data)
			if err != nil {
				logger.Log.Warn("drop socket event", zap.ByteString("payload", data), zap.Error(err))
				continue
			}
			handler(event)
		}
	}()
	return nil
}

// Close send close frame then close the connection
func (w *WebsocketChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// DecodeEvent parse + validate a socket payload
func DecodeEvent(data []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.Event{}, err
	}
	if err := domain.ValidateEvent(event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}
