package fonthandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// writeRequest is the latest state of one glyph waiting to be written.
type writeRequest struct {
	glyphName  string
	glyph      map[string]any
	codePoints []int
	delete     bool
	conn       *Connection
}

// writer writes glyphs to the backend in the background. Requests for the
// same glyph coalesce: only the newest state is written, at the position
// of the first unwritten request.
type writer struct {
	h *FontHandler

	mu      sync.Mutex
	pending map[string]writeRequest
	order   []string
	busy    bool
	idle    chan struct{}
	stopped bool

	signal chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func newWriter(h *FontHandler) *writer {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	w := &writer{
		h:       h,
		pending: make(map[string]writeRequest),
		idle:    idle,
		signal:  make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *writer) schedule(req writeRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrHandlerClosed
	}
	if _, ok := w.pending[req.glyphName]; !ok {
		w.order = append(w.order, req.glyphName)
	}
	w.pending[req.glyphName] = req
	if !w.busy {
		w.busy = true
		w.idle = make(chan struct{})
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (w *writer) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// finish waits until the queue is drained.
func (w *writer) finish(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		w.busy = false
		close(w.idle)
	}
}

func (w *writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
			w.drain(ctx)
		}
	}
}

func (w *writer) next() (writeRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		w.busy = false
		close(w.idle)
		return writeRequest{}, false
	}
	name := w.order[0]
	w.order = w.order[1:]
	req := w.pending[name]
	delete(w.pending, name)
	return req, true
}

func (w *writer) drain(ctx context.Context) {
	for {
		req, ok := w.next()
		if !ok {
			return
		}
		w.write(ctx, req)
	}
}

func (w *writer) write(ctx context.Context, req writeRequest) {
	h := w.h
	operation := "put_glyph"
	if req.delete {
		operation = "delete_glyph"
	}
	ctx, span := observability.TraceEdit(ctx, operation, req.glyphName)
	defer span.End()

	start := time.Now()
	err := h.policy.Do(ctx, operation, func(ctx context.Context) error {
		if req.delete {
			return h.writable.DeleteGlyph(ctx, req.glyphName)
		}
		return h.writable.PutGlyph(ctx, req.glyphName, req.glyph, req.codePoints)
	})
	h.metrics.RecordEditOperation(operation, err == nil, time.Since(start))
	if err == nil {
		h.logger.Debug("Glyph written", map[string]interface{}{
			"glyph":     req.glyphName,
			"operation": operation,
		})
		return
	}

	span.RecordError(err)
	h.logger.Error("Failed to write glyph", map[string]interface{}{
		"glyph":     req.glyphName,
		"operation": operation,
		"error":     err.Error(),
	})
	if ctx.Err() != nil {
		return
	}
	if rerr := h.ReloadGlyphs(ctx, []string{req.glyphName}); rerr != nil {
		h.logger.Warn("Failed to reload glyph after write failure", map[string]interface{}{
			"glyph": req.glyphName,
			"error": rerr.Error(),
		})
	}
	if req.conn != nil {
		if merr := req.conn.client.MessageFromServer(ctx,
			"The data could not be saved due to an error.",
			fmt.Sprintf("The edit has been reverted.\n\n%v", err),
		); merr != nil {
			h.logger.Warn("Failed to message client", map[string]interface{}{
				"connection": req.conn.id,
				"error":      merr.Error(),
			})
		}
	}
}
