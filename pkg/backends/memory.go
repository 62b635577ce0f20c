package backends

import (
	"context"
	"sync"

	"github.com/developer-mesh/fontedit/pkg/changes"
)

// MemoryBackend keeps a font in process memory. Documents are copied on
// the way in and out.
type MemoryBackend struct {
	mu         sync.RWMutex
	glyphs     map[string]map[string]any
	glyphMap   map[string][]int
	axes       []map[string]any
	unitsPerEm int
}

// NewMemoryBackend returns an empty font.
func NewMemoryBackend(unitsPerEm int) *MemoryBackend {
	if unitsPerEm <= 0 {
		unitsPerEm = DefaultUnitsPerEm
	}
	return &MemoryBackend{
		glyphs:     make(map[string]map[string]any),
		glyphMap:   make(map[string][]int),
		unitsPerEm: unitsPerEm,
	}
}

func (b *MemoryBackend) GetGlyph(_ context.Context, name string) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.glyphs[name]
	if !ok {
		return nil, nil
	}
	return changes.DeepCopy(g).(map[string]any), nil
}

func (b *MemoryBackend) GetGlyphMap(context.Context) (map[string][]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make(map[string][]int, len(b.glyphMap))
	for name, codePoints := range b.glyphMap {
		result[name] = append([]int(nil), codePoints...)
	}
	return result, nil
}

func (b *MemoryBackend) GetGlobalAxes(context.Context) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	axes := make([]map[string]any, len(b.axes))
	for i, axis := range b.axes {
		axes[i] = changes.DeepCopy(axis).(map[string]any)
	}
	return axes, nil
}

func (b *MemoryBackend) GetUnitsPerEm(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unitsPerEm, nil
}

// PutGlobalAxes replaces the axes of the font.
func (b *MemoryBackend) PutGlobalAxes(_ context.Context, axes []map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.axes = make([]map[string]any, len(axes))
	for i, axis := range axes {
		b.axes[i] = changes.DeepCopy(axis).(map[string]any)
	}
	return nil
}

func (b *MemoryBackend) PutUnitsPerEm(_ context.Context, upm int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unitsPerEm = upm
	return nil
}

func (b *MemoryBackend) PutGlyph(_ context.Context, name string, glyph map[string]any, codePoints []int) error {
	if err := validateGlyph(name, glyph); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.glyphs[name] = changes.DeepCopy(glyph).(map[string]any)
	b.glyphMap[name] = append([]int{}, codePoints...)
	return nil
}

func (b *MemoryBackend) DeleteGlyph(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.glyphs, name)
	delete(b.glyphMap, name)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
