// Package fontcontroller owns the client-side in-memory font: it loads
// glyphs through a Remote, runs edit sessions against them, keeps per-glyph
// undo stacks and applies changes broadcast by other clients.
package fontcontroller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/fontedit/pkg/cache"
	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/deps"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/undo"
)

// Config configures a FontController.
type Config struct {
	ThrottleInterval time.Duration `mapstructure:"throttle_interval" validate:"gte=0"`
	Cache            cache.Config  `mapstructure:"cache"`
}

// EditTarget names what an edit applies to: a whole variable glyph, or the
// source layer serving an instance when Location or LayerName is set.
type EditTarget struct {
	GlyphName string
	Location  glyph.Location
	LayerName string
}

func (t EditTarget) isInstance() bool {
	return t.Location != nil || t.LayerName != ""
}

// Option configures a FontController.
type Option func(*FontController)

// WithSelectionModel sets the selection model restored by edits and undo.
func WithSelectionModel(selection SelectionModel) Option {
	return func(fc *FontController) {
		fc.selection = selection
	}
}

// WithNotifier sets where user-visible failures go.
func WithNotifier(notifier Notifier) Option {
	return func(fc *FontController) {
		fc.notifier = notifier
	}
}

// WithInstancer sets the instancer used for instance targets.
func WithInstancer(instancer glyph.Instancer) Option {
	return func(fc *FontController) {
		fc.instancer = instancer
	}
}

// WithRegistry sets the operation registry used to apply changes.
func WithRegistry(registry *changes.Registry) Option {
	return func(fc *FontController) {
		fc.registry = registry
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(fc *FontController) {
		fc.logger = logger
	}
}

// WithMetrics sets the metrics client.
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(fc *FontController) {
		fc.metrics = metrics
	}
}

type listenerEntry struct {
	id int
	fn EditListener
}

// FontController is safe for concurrent use. At most one edit session per
// glyph is active at a time.
//
// Cached glyph documents are mutated in place under the document lock:
// edit functions run with it held, as do local and external change
// applications. The lock is not reentrant, so an edit function must not
// call back into the controller's edit, undo or apply methods.
type FontController struct {
	remote    Remote
	config    Config
	cache     *cache.GlyphCache
	deps      *deps.Graph
	registry  *changes.Registry
	instancer glyph.Instancer
	selection SelectionModel
	notifier  Notifier
	logger    observability.Logger
	metrics   observability.MetricsClient

	loads singleflight.Group

	// docMu guards the content of cached glyph documents.
	docMu sync.Mutex

	mu         sync.Mutex
	sessions   map[string]*EditSession
	undoStacks map[string]*undo.Stack
	listeners  []listenerEntry
	nextID     int
}

// New creates a FontController talking to remote.
func New(remote Remote, cfg Config, opts ...Option) (*FontController, error) {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = DefaultThrottleInterval
	}
	fc := &FontController{
		remote:     remote,
		config:     cfg,
		deps:       deps.NewGraph(),
		sessions:   make(map[string]*EditSession),
		undoStacks: make(map[string]*undo.Stack),
	}
	for _, opt := range opts {
		opt(fc)
	}
	fc.logger = observability.OrNoop(fc.logger).WithPrefix("font-controller")
	fc.metrics = observability.MetricsOrNoop(fc.metrics)
	if fc.registry == nil {
		fc.registry = glyph.NewRegistry()
	}
	if fc.instancer == nil {
		fc.instancer = glyph.SourceInstancer{}
	}
	if fc.selection == nil {
		fc.selection = &memorySelection{}
	}
	if fc.notifier == nil {
		fc.notifier = nopNotifier{}
	}

	glyphCache, err := cache.NewGlyphCache(cfg.Cache, fc.logger, fc.metrics)
	if err != nil {
		return nil, err
	}
	glyphCache.SetOnGlyphEvicted(fc.glyphEvicted)
	fc.cache = glyphCache
	return fc, nil
}

// Selection returns the selection model.
func (fc *FontController) Selection() SelectionModel {
	return fc.selection
}

// Dependencies returns the component dependency graph of loaded glyphs.
func (fc *FontController) Dependencies() *deps.Graph {
	return fc.deps
}

// GetGlyph returns the cached glyph document, loading it from the remote on
// a miss. Concurrent loads of the same glyph share one remote call.
func (fc *FontController) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	if g, ok := fc.cache.GetGlyph(name); ok {
		return g, nil
	}

	v, err, shared := fc.loads.Do(name, func() (interface{}, error) {
		if fc.cache.HasGlyph(name) {
			g, _ := fc.cache.GetGlyph(name)
			return g, nil
		}
		g, err := fc.remote.GetGlyph(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load glyph %s: %w", name, err)
		}
		if g == nil {
			return nil, fmt.Errorf("%w: %s", ErrGlyphNotFound, name)
		}
		if err := fc.remote.SubscribeChanges(ctx, glyphPattern(name), false); err != nil {
			return nil, fmt.Errorf("failed to subscribe to glyph %s: %w", name, err)
		}
		fc.cache.PutGlyph(name, g)
		fc.deps.Update(name, glyph.ComponentNames(g))
		return g, nil
	})
	if shared {
		fc.metrics.IncrementCounterWithLabels("glyph_loads_shared", 1, map[string]string{"glyph": name})
	}
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// GetGlyphInstance returns the glyph resolved at location.
func (fc *FontController) GetGlyphInstance(ctx context.Context, name string, location glyph.Location) (*glyph.Instance, error) {
	if inst, ok := fc.cache.GetInstance(name, location); ok {
		return inst, nil
	}
	g, err := fc.GetGlyph(ctx, name)
	if err != nil {
		return nil, err
	}
	inst, err := fc.instancer.Instance(name, g, location)
	if err != nil {
		return nil, err
	}
	fc.cache.PutInstance(inst)
	return inst, nil
}

// SubscribeLiveChanges asks the remote for incremental changes to glyphs,
// typically the ones visible in an editor.
func (fc *FontController) SubscribeLiveChanges(ctx context.Context, names ...string) error {
	return fc.remote.SubscribeChanges(ctx, glyphsPattern(names), true)
}

// UnsubscribeLiveChanges undoes SubscribeLiveChanges.
func (fc *FontController) UnsubscribeLiveChanges(ctx context.Context, names ...string) error {
	return fc.remote.UnsubscribeChanges(ctx, glyphsPattern(names), true)
}

// AddEditListener registers a listener and returns a function removing it.
func (fc *FontController) AddEditListener(fn EditListener) func() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.nextID++
	id := fc.nextID
	fc.listeners = append(fc.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		for i, l := range fc.listeners {
			if l.id == id {
				fc.listeners = append(fc.listeners[:i], fc.listeners[i+1:]...)
				return
			}
		}
	}
}

func (fc *FontController) emit(ev Event) {
	fc.mu.Lock()
	listeners := make([]listenerEntry, len(fc.listeners))
	copy(listeners, fc.listeners)
	fc.mu.Unlock()

	for _, l := range listeners {
		l.fn(ev)
	}
}

// CanUndo reports whether the glyph has an undo record.
func (fc *FontController) CanUndo(name string) bool {
	fc.mu.Lock()
	stack := fc.undoStacks[name]
	fc.mu.Unlock()
	return stack != nil && stack.CanUndo()
}

// CanRedo reports whether the glyph has a redo record.
func (fc *FontController) CanRedo(name string) bool {
	fc.mu.Lock()
	stack := fc.undoStacks[name]
	fc.mu.Unlock()
	return stack != nil && stack.CanRedo()
}

func (fc *FontController) undoStack(name string) *undo.Stack {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	stack, ok := fc.undoStacks[name]
	if !ok {
		stack = undo.NewStack()
		fc.undoStacks[name] = stack
	}
	return stack
}

func (fc *FontController) clearUndo(name string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.undoStacks, name)
}

func (fc *FontController) activeSession(name string) *EditSession {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.sessions[name]
}

func (fc *FontController) endSession(s *EditSession) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.sessions[s.glyphName] == s {
		delete(fc.sessions, s.glyphName)
	}
}

// applyLocal applies an absolute change to the cached glyphs it addresses
// and returns their names. The caller holds docMu.
func (fc *FontController) applyLocal(change changes.Change) ([]string, error) {
	names := glyphNamesOf(change)
	glyphs := make(map[string]any, len(names))
	for _, name := range names {
		if g, ok := fc.cache.GetGlyph(name); ok {
			glyphs[name] = g
		}
	}
	root := map[string]any{"glyphs": glyphs}
	_, err := fc.registry.Apply(root, change)

	for _, name := range names {
		if g, ok := glyphs[name].(map[string]any); ok {
			fc.cache.PutGlyph(name, g)
		}
		fc.glyphChanged(name)
	}
	return names, err
}

// glyphChanged refreshes derived state after a glyph document changed in
// place. The caller holds docMu.
func (fc *FontController) glyphChanged(name string) {
	fc.cache.InvalidateInstances(name)
	if g, ok := fc.cache.GetGlyph(name); ok {
		fc.deps.Update(name, glyph.ComponentNames(g))
	}
	for _, user := range fc.deps.IterUsedBy(name) {
		fc.cache.InvalidateInstances(user)
	}
}

func (fc *FontController) glyphEvicted(name string) {
	fc.deps.Forget(name)
	if err := fc.remote.UnsubscribeChanges(context.Background(), glyphPattern(name), false); err != nil {
		fc.logger.Warn("Failed to unsubscribe evicted glyph", map[string]interface{}{
			"glyph": name,
			"error": err.Error(),
		})
	}
}

func glyphPattern(name string) changes.Pattern {
	return changes.PathToPattern(changes.Path{"glyphs", name})
}

func glyphsPattern(names []string) changes.Pattern {
	pattern := changes.Pattern{}
	for _, name := range names {
		changes.AddPathToPattern(pattern, changes.Path{"glyphs", name})
	}
	return pattern
}

// glyphNamesOf returns the sorted names of the glyphs a change addresses.
func glyphNamesOf(change changes.Change) []string {
	var names []string
	for _, p := range changes.CollectChangePaths(change, 2) {
		if p[0] != "glyphs" {
			continue
		}
		if name, ok := p[1].(string); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
