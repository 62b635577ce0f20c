// Package fonthandler serves a font backend to connected editors. It keeps
// edited glyphs in memory, fans changes out to subscribed connections and
// writes edits back to the backend in the background.
package fonthandler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/deps"
	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/resilience"
)

var (
	// ErrReadOnly is returned for edits against a backend that cannot be
	// written.
	ErrReadOnly = pkgerrors.New("READ_ONLY", "font is read-only", pkgerrors.ClassValidation)
	// ErrUnsupportedChange is returned for changes outside the glyph set.
	ErrUnsupportedChange = pkgerrors.New("UNSUPPORTED_CHANGE", "change addresses unsupported font data", pkgerrors.ClassValidation)
	// ErrHandlerClosed is returned once the handler stopped writing.
	ErrHandlerClosed = pkgerrors.New("HANDLER_CLOSED", "font handler is closed", pkgerrors.ClassUsage)
)

// ChangeBus carries broadcast changes to handlers in other processes.
type ChangeBus interface {
	Publish(ctx context.Context, change changes.Change, live bool) error
}

// Config configures a FontHandler.
type Config struct {
	LocalDataSize  int                             `mapstructure:"local_data_size" validate:"gte=0"`
	ReadOnly       bool                            `mapstructure:"read_only"`
	Retry          resilience.RetryConfig          `mapstructure:"retry"`
	CircuitBreaker resilience.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// DefaultConfig returns the handler defaults.
func DefaultConfig() Config {
	return Config{
		LocalDataSize: 1000,
		Retry:         resilience.DefaultRetryConfig(),
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Name: "backend-writes",
		},
	}
}

// Option configures a FontHandler.
type Option func(*FontHandler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *FontHandler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics client.
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(h *FontHandler) {
		h.metrics = metrics
	}
}

// WithChangeBus publishes broadcast changes to other processes.
func WithChangeBus(bus ChangeBus) Option {
	return func(h *FontHandler) {
		h.bus = bus
	}
}

// WithPolicy overrides the retry and circuit breaker policy for writes.
func WithPolicy(policy *resilience.Policy) Option {
	return func(h *FontHandler) {
		h.policy = policy
	}
}

// FontHandler is safe for concurrent use.
type FontHandler struct {
	backend  backends.Backend
	writable backends.WritableBackend
	config   Config
	registry *changes.Registry
	deps     *deps.Graph
	policy   *resilience.Policy
	bus      ChangeBus
	logger   observability.Logger
	metrics  observability.MetricsClient

	loads singleflight.Group

	// localMu serializes changes to local data so writes are queued in
	// the order the edits were applied.
	localMu  sync.Mutex
	local    *lru.Cache[string, map[string]any]
	glyphMap map[string][]int

	connMu      sync.RWMutex
	connections map[string]*Connection

	writer *writer

	stopWatching context.CancelFunc
	watchDone    chan struct{}
}

// New creates a handler for backend and starts its background writer.
// A backend that does not implement backends.WritableBackend is served
// read-only.
func New(backend backends.Backend, cfg Config, opts ...Option) (*FontHandler, error) {
	if cfg.LocalDataSize <= 0 {
		cfg.LocalDataSize = DefaultConfig().LocalDataSize
	}
	h := &FontHandler{
		backend:     backend,
		config:      cfg,
		registry:    glyph.NewRegistry(),
		deps:        deps.NewGraph(),
		connections: make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = observability.OrNoop(h.logger).WithPrefix("font-handler")
	h.metrics = observability.MetricsOrNoop(h.metrics)

	if w, ok := backend.(backends.WritableBackend); ok && !cfg.ReadOnly {
		h.writable = w
	}
	if h.policy == nil {
		breaker := resilience.NewCircuitBreaker(cfg.CircuitBreaker, h.logger, h.metrics)
		h.policy = resilience.NewPolicy(breaker, cfg.Retry, h.logger)
	}

	local, err := lru.New[string, map[string]any](cfg.LocalDataSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create local data cache: %w", err)
	}
	h.local = local
	h.writer = newWriter(h)

	if watchable, ok := backend.(backends.WatchableBackend); ok {
		if err := h.startWatching(watchable); err != nil {
			h.writer.stop()
			return nil, err
		}
	}
	return h, nil
}

// ReadOnly reports whether edits are rejected.
func (h *FontHandler) ReadOnly() bool {
	return h.writable == nil
}

// Backend returns the backend being served.
func (h *FontHandler) Backend() backends.Backend {
	return h.backend
}

// Dependencies returns the component graph of the glyphs loaded so far.
func (h *FontHandler) Dependencies() *deps.Graph {
	return h.deps
}

// GetGlyph returns a copy of the glyph, or nil if the font has none by
// that name. Pending edits are included.
func (h *FontHandler) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	g, err := h.localGlyph(ctx, name)
	if err != nil || g == nil {
		return nil, err
	}
	return changes.DeepCopy(g).(map[string]any), nil
}

// localGlyph returns the shared local document. Stored documents are never
// mutated; edits replace them with an edited copy.
func (h *FontHandler) localGlyph(ctx context.Context, name string) (map[string]any, error) {
	if g, ok := h.local.Get(name); ok {
		return g, nil
	}
	v, err, _ := h.loads.Do(name, func() (interface{}, error) {
		if g, ok := h.local.Get(name); ok {
			return g, nil
		}
		start := time.Now()
		g, err := h.backend.GetGlyph(ctx, name)
		h.metrics.RecordHistogram("backend_read_seconds", time.Since(start).Seconds(), map[string]string{"operation": "get_glyph"})
		if err != nil {
			return nil, fmt.Errorf("failed to load glyph %s: %w", name, err)
		}
		if g == nil {
			return nil, nil
		}
		h.deps.Update(name, glyph.ComponentNames(g))
		h.local.Add(name, g)
		return g, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// GetGlyphMap returns glyph names and their code points, including glyphs
// created by edits that are not written yet.
func (h *FontHandler) GetGlyphMap(ctx context.Context) (map[string][]int, error) {
	h.localMu.Lock()
	defer h.localMu.Unlock()
	glyphMap, err := h.loadGlyphMap(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]int, len(glyphMap))
	for name, codePoints := range glyphMap {
		result[name] = append([]int{}, codePoints...)
	}
	return result, nil
}

// loadGlyphMap must be called with localMu held.
func (h *FontHandler) loadGlyphMap(ctx context.Context) (map[string][]int, error) {
	if h.glyphMap != nil {
		return h.glyphMap, nil
	}
	glyphMap, err := h.backend.GetGlyphMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load glyph map: %w", err)
	}
	if glyphMap == nil {
		glyphMap = make(map[string][]int)
	}
	h.glyphMap = glyphMap
	return glyphMap, nil
}

// GetGlobalAxes returns the font's axes.
func (h *FontHandler) GetGlobalAxes(ctx context.Context) ([]map[string]any, error) {
	return h.backend.GetGlobalAxes(ctx)
}

// GetUnitsPerEm returns the font's units per em.
func (h *FontHandler) GetUnitsPerEm(ctx context.Context) (int, error) {
	return h.backend.GetUnitsPerEm(ctx)
}

// glyphNames returns the glyph names addressed by change, which must only
// address the glyph set. Glyphs created or deleted by an operation on the
// glyph set itself are included.
func glyphNames(change changes.Change) ([]string, error) {
	for _, p := range changes.CollectChangePaths(change, 1) {
		if p[0] != "glyphs" {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedChange, p[0])
		}
	}
	seen := make(map[string]bool)
	for _, p := range changes.CollectChangePaths(change, 2) {
		if len(p) == 2 {
			if name, ok := p[1].(string); ok {
				seen[name] = true
			}
		}
	}
	collectGlyphSetKeys(change, nil, seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func collectGlyphSetKeys(change changes.Change, prefix changes.Path, seen map[string]bool) {
	path := prefix.Concat(change.Path)
	if change.Func != "" && len(path) == 1 && path[0] == "glyphs" && len(change.Args) > 0 {
		if name, ok := change.Args[0].(string); ok {
			seen[name] = true
		}
	}
	for _, child := range change.Children {
		collectGlyphSetKeys(child, path, seen)
	}
}

// updateLocalData applies a final change to the local glyphs and queues
// the touched glyphs for writing.
func (h *FontHandler) updateLocalData(ctx context.Context, change changes.Change, conn *Connection) error {
	if h.ReadOnly() {
		return ErrReadOnly
	}
	if h.writer.isStopped() {
		return ErrHandlerClosed
	}
	names, err := glyphNames(change)
	if err != nil {
		return err
	}

	h.localMu.Lock()
	defer h.localMu.Unlock()

	glyphMap, err := h.loadGlyphMap(ctx)
	if err != nil {
		return err
	}

	glyphs := make(map[string]any, len(names))
	for _, name := range names {
		g, err := h.localGlyph(ctx, name)
		if err != nil {
			return err
		}
		if g != nil {
			glyphs[name] = changes.DeepCopy(g)
		}
	}
	existed := make(map[string]bool, len(glyphs))
	for name := range glyphs {
		existed[name] = true
	}

	if _, err := h.registry.Apply(map[string]any{"glyphs": glyphs}, change.Clone()); err != nil {
		return err
	}

	for _, name := range names {
		doc, _ := glyphs[name].(map[string]any)
		req := writeRequest{glyphName: name, conn: conn}
		switch {
		case doc != nil:
			h.local.Add(name, doc)
			h.deps.Update(name, glyph.ComponentNames(doc))
			if _, ok := glyphMap[name]; !ok {
				glyphMap[name] = []int{}
			}
			req.glyph = doc
			req.codePoints = append([]int{}, glyphMap[name]...)
		case existed[name]:
			h.local.Remove(name)
			h.deps.Forget(name)
			delete(glyphMap, name)
			req.delete = true
		default:
			continue
		}
		if err := h.writer.schedule(req); err != nil {
			return err
		}
	}
	return nil
}

// applyToLoaded applies a change committed elsewhere to the glyphs held
// locally, without writing.
func (h *FontHandler) applyToLoaded(change changes.Change) error {
	h.localMu.Lock()
	defer h.localMu.Unlock()

	pattern := changes.Pattern{}
	for _, name := range h.local.Keys() {
		changes.AddPathToPattern(pattern, changes.Path{"glyphs", name})
	}
	filtered, ok := changes.FilterChangePattern(change, pattern, false)
	if !ok {
		return nil
	}
	names, err := glyphNames(filtered)
	if err != nil {
		return err
	}
	glyphs := make(map[string]any, len(names))
	for _, name := range names {
		if g, ok := h.local.Peek(name); ok {
			glyphs[name] = changes.DeepCopy(g)
		}
	}
	if _, err := h.registry.Apply(map[string]any{"glyphs": glyphs}, filtered.Clone()); err != nil {
		return err
	}
	for _, name := range names {
		if doc, ok := glyphs[name].(map[string]any); ok {
			h.local.Add(name, doc)
			h.deps.Update(name, glyph.ComponentNames(doc))
		} else {
			h.local.Remove(name)
			h.deps.Forget(name)
		}
	}
	return nil
}

func (h *FontHandler) snapshotConnections() []*Connection {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	return conns
}

// broadcastChange sends change to every connection other than source
// whose subscriptions match. Live changes only go to live subscribers.
func (h *FontHandler) broadcastChange(ctx context.Context, change changes.Change, source *Connection, live bool) error {
	var g errgroup.Group
	sent := 0
	for _, conn := range h.snapshotConnections() {
		if conn == source || !conn.matches(change, live) {
			continue
		}
		sent++
		g.Go(func() error {
			if err := conn.client.ExternalChange(ctx, change.Clone()); err != nil {
				return fmt.Errorf("connection %s: %w", conn.id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	h.metrics.RecordCounter("broadcasts", float64(sent), map[string]string{"live": fmt.Sprint(live)})
	if err != nil {
		h.logger.Warn("Broadcast failed", map[string]interface{}{
			"live":  live,
			"error": err.Error(),
		})
	}
	return err
}

// publish forwards a change to other processes.
func (h *FontHandler) publish(ctx context.Context, change changes.Change, live bool) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, change, live); err != nil {
		h.logger.Warn("Failed to publish change", map[string]interface{}{
			"live":  live,
			"error": err.Error(),
		})
	}
}

// HandleBusChange dispatches a change published by a handler in another
// process. Final changes are applied to locally held glyphs; that process
// writes them to the backend.
func (h *FontHandler) HandleBusChange(ctx context.Context, change changes.Change, live bool) error {
	if !live {
		if err := h.applyToLoaded(change); err != nil {
			h.logger.Error("Failed to apply bus change", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	}
	return h.broadcastChange(ctx, change, nil, live)
}

// ReloadGlyphs drops local copies of the named glyphs and tells the
// connections subscribed to them to reload.
func (h *FontHandler) ReloadGlyphs(ctx context.Context, names []string) error {
	for _, name := range names {
		h.local.Remove(name)
	}
	h.logger.Info("Reloading glyphs", map[string]interface{}{"glyphs": names})

	var g errgroup.Group
	for _, conn := range h.snapshotConnections() {
		subscribed := conn.subscribedGlyphNames(names)
		if len(subscribed) == 0 {
			continue
		}
		g.Go(func() error {
			return conn.client.ReloadGlyphs(ctx, subscribed)
		})
	}
	return g.Wait()
}

// FinishWriting blocks until all queued writes are done.
func (h *FontHandler) FinishWriting(ctx context.Context) error {
	return h.writer.finish(ctx)
}

// Close flushes pending writes, stops the writer and closes the backend.
func (h *FontHandler) Close(ctx context.Context) error {
	h.stopWatchingExternalChanges()
	flushErr := h.writer.finish(ctx)
	h.writer.stop()
	if err := h.backend.Close(); err != nil {
		return fmt.Errorf("failed to close backend: %w", err)
	}
	return flushErr
}
