package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/logger"
)

const heartbeatInterval = 25 * time.Second

// EventSource hands out session change events.
type EventSource interface {
	Subscribe(ctx context.Context) <-chan auth.SessionEvent
}

// EventsHandler streams the viewer's session changes to open pages.
type EventsHandler struct {
	events    EventSource
	heartbeat time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewEventsHandler(events EventSource) *EventsHandler {
	return &EventsHandler{events: events, heartbeat: heartbeatInterval, stop: make(chan struct{})}
}

// Shutdown ends every open stream. Streams never finish on their own, so
// the server calls this when it starts shutting down.
func (h *EventsHandler) Shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// HandleSession is a server-sent event stream of the viewer's session
// events. The stream ends after a signed_out event, when the client goes
// away or on Shutdown.
//
// HTTP: GET /events/session
//
// WIRE FORMAT (text/event-stream):
//
//	retry: 5000           sent once; the browser reconnects after 5s
//	: ping                comment line on every heartbeat, keeps proxies from
//	                      closing an idle connection
//	event: signed_out     one block per session event, a blank line ends it
//	data: {"type":...}
//
// Events are filtered to the viewer's own account, since the broker fans
// every account's events out to every subscriber.
func (h *EventsHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	rc := http.NewResponseController(w)

	// The server's write timeout would cut the stream short.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("could not lift write deadline for event stream", zap.Error(err))
	}

	events := h.events.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 5000\n\n")
	if err := rc.Flush(); err != nil {
		log.Debug("event stream flush failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.AccountID != sess.AccountID {
				continue
			}
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			if ev.Type == auth.EventSignedOut {
				_ = rc.Flush()
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
