package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/notify"
)

// CompletionFeed is a websocket hub that streams attempt-completion events
// to connected subscribers (dashboards, graders). It implements app.Notifier,
// so it plugs into the engine next to the other sinks.
type CompletionFeed struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu          sync.Mutex
	subscribers map[chan notify.Event]struct{}
}

func NewCompletionFeed(log *slog.Logger) *CompletionFeed {
	if log == nil {
		log = slog.Default()
	}
	return &CompletionFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:         log,
		subscribers: make(map[chan notify.Event]struct{}),
	}
}

type outboundMessage struct {
	Type    string       `json:"type"`
	Payload notify.Event `json:"payload"`
}

// NotifyCompletion fans the event out to every subscriber without blocking;
// a slow client loses its oldest queued event instead of stalling delivery.
func (f *CompletionFeed) NotifyCompletion(_ context.Context, attempt domain.Attempt) error {
	event := notify.EventFromAttempt(attempt)
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// ServeWS upgrades the request and streams completion events until the
// client goes away.
func (f *CompletionFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := f.subscribe()
	defer cancel()

	// Reader goroutine only detects the peer closing.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "attemptCompleted", Payload: event}); err != nil {
				f.log.Warn("ws write error", "error", err)
				return
			}
		case <-readerDone:
			return
		}
	}
}

func (f *CompletionFeed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *CompletionFeed) subscribe() (chan notify.Event, func()) {
	ch := make(chan notify.Event, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}
