package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxFlushFrames      = 16
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine that writes to the client socket. Control
// frames (state, transcripts, canvas commands, errors) are written in enqueue order
// and always before pending audio. The socket is closed whenever Run returns, which
// also unblocks the session's read loop after a failed write.
type outboundWriter struct {
	ws      wsWriter
	ctx     context.Context
	cfg     Config
	control <-chan []byte
	audio   <-chan []byte
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	defer func() { _ = w.ws.Close() }()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var done <-chan struct{}
	if w.ctx != nil {
		done = w.ctx.Done()
	}

	var pendingAudio []byte

	for {
		select {
		case <-done:
			w.flushControlOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		default:
		}

		select {
		case payload, ok := <-w.control:
			if !ok {
				w.control = nil
				continue
			}
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if pendingAudio != nil {
			if err := w.write(pendingAudio, writeTimeout); err != nil {
				return err
			}
			pendingAudio = nil
			continue
		}

		if w.control == nil && w.audio == nil {
			return nil
		}

		select {
		case <-done:
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case payload, ok := <-w.control:
			if !ok {
				w.control = nil
				continue
			}
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		case payload, ok := <-w.audio:
			if !ok {
				w.audio = nil
				continue
			}
			pendingAudio = payload
		}
	}
}

// flushControlOnShutdown writes what is left of the control queue, bounded in time
// and frame count, so a final error frame reaches the client.
func (w *outboundWriter) flushControlOnShutdown(writeTimeout time.Duration) {
	if w.control == nil {
		return
	}
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case payload, ok := <-w.control:
			if !ok {
				return
			}
			if err := w.write(payload, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) write(payload []byte, writeTimeout time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}
