package handler

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cartstore/internal/domain/cart"
)

// eventBuffer is the number of events queued per stream. Events beyond it
// are dropped for that stream; the next delivered event carries the full
// cart anyway.
const eventBuffer = 16

// StreamEvents streams cart changes and notices as server-sent events. The
// first event is the current cart.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	lg := zctx.From(r.Context())
	rc := http.NewResponseController(w)

	// The server write timeout would otherwise cut long-lived streams.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		lg.Debug("Clear write deadline", zap.Error(err))
	}

	events := make(chan cart.Event, eventBuffer)
	cancel := store.Subscribe(func(ev cart.Event) {
		select {
		case events <- ev:
		default:
			lg.Debug("Dropped cart event for slow stream")
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev cart.Event) bool {
		if _, err := w.Write(formatEvent(ev)); err != nil {
			return false
		}
		return rc.Flush() == nil
	}
	if !send(cart.Event{Cart: store.Cart()}) {
		return
	}

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if !send(ev) {
				return
			}
		case <-heartbeat:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}

// formatEvent renders ev as an SSE frame. Snapshots use the "cart" event
// name, rejected operations use "notice".
func formatEvent(ev cart.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("cart")
	encodeCart(&e, ev.Cart)
	if n := ev.Notice; n != nil {
		e.FieldStart("notice")
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(n.Kind))
		e.FieldStart("message")
		e.Str(n.Kind.Message())
		e.FieldStart("productId")
		e.Int(n.ProductID)
		e.FieldStart("warning")
		e.Bool(n.Kind.Warning())
		e.ObjEnd()
	}
	e.ObjEnd()

	name := "cart"
	if ev.Notice != nil {
		name = "notice"
	}

	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\ndata: ")
	b.Write(e.Bytes())
	b.WriteString("\n\n")
	return b.Bytes()
}
