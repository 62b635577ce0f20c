package backends

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

const (
	fontDataFileName  = "font-data.json"
	glyphInfoFileName = "glyph-info.csv"
	glyphsDirName     = "glyphs"
)

// DirectoryConfig configures a DirectoryBackend.
type DirectoryConfig struct {
	Path string `mapstructure:"path"`
	// Create makes an empty font when Path does not exist.
	Create bool `mapstructure:"create"`
	// WatchDebounce groups file events that arrive together.
	WatchDebounce time.Duration `mapstructure:"watch_debounce" validate:"gte=0"`
}

// ExternalChange describes edits made to a font by another program.
type ExternalChange struct {
	// Change edits the glyph map; nil when no glyph was added or removed.
	Change *changes.Change
	// Reload names glyphs whose documents changed.
	Reload []string
}

// WatchableBackend reports changes made outside this process.
type WatchableBackend interface {
	Backend
	// WatchExternalChanges delivers external changes until ctx is done,
	// then closes the channel.
	WatchExternalChanges(ctx context.Context) (<-chan ExternalChange, error)
}

type fontData struct {
	UnitsPerEm int              `json:"unitsPerEm"`
	Axes       []map[string]any `json:"axes"`
}

// DirectoryBackend stores a font as a directory: font-data.json holds the
// units per em and axes, glyph-info.csv the glyph names and code points,
// and glyphs/ one JSON document per glyph.
type DirectoryBackend struct {
	path     string
	debounce time.Duration
	logger   observability.Logger

	mu       sync.Mutex
	glyphMap map[string][]int
	data     fontData
	// written holds the modification time of each glyph file this backend
	// wrote last, so its own writes are not reported as external.
	written map[string]time.Time
}

var (
	_ WritableBackend  = (*DirectoryBackend)(nil)
	_ WatchableBackend = (*DirectoryBackend)(nil)
	_ FontInfoWriter   = (*DirectoryBackend)(nil)
)

// NewDirectoryBackend opens the font at cfg.Path.
func NewDirectoryBackend(cfg DirectoryConfig, logger observability.Logger) (*DirectoryBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("directory backend needs a path")
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 100 * time.Millisecond
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve font path: %w", err)
	}

	b := &DirectoryBackend{
		path:     path,
		debounce: cfg.WatchDebounce,
		logger:   observability.OrNoop(logger).WithPrefix("directory-backend"),
		glyphMap: make(map[string][]int),
		data:     fontData{UnitsPerEm: DefaultUnitsPerEm, Axes: []map[string]any{}},
		written:  make(map[string]time.Time),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !cfg.Create {
			return nil, fmt.Errorf("font directory %s does not exist", path)
		}
		if err := os.MkdirAll(b.glyphsDir(), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create font directory: %w", err)
		}
		if err := b.writeFontData(); err != nil {
			return nil, err
		}
		if err := b.writeGlyphInfo(); err != nil {
			return nil, err
		}
		return b, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open font directory: %w", err)
	}

	if err := os.MkdirAll(b.glyphsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create glyphs directory: %w", err)
	}
	if err := b.readGlyphInfo(); err != nil {
		return nil, err
	}
	if err := b.readFontData(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *DirectoryBackend) glyphsDir() string {
	return filepath.Join(b.path, glyphsDirName)
}

func glyphFileName(name string) string {
	return url.PathEscape(name) + ".json"
}

func glyphNameFromFile(fileName string) (string, bool) {
	if strings.HasPrefix(fileName, ".") || !strings.HasSuffix(fileName, ".json") {
		return "", false
	}
	name, err := url.PathUnescape(strings.TrimSuffix(fileName, ".json"))
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func (b *DirectoryBackend) GetGlyph(_ context.Context, name string) (map[string]any, error) {
	b.mu.Lock()
	_, known := b.glyphMap[name]
	b.mu.Unlock()
	if !known {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(b.glyphsDir(), glyphFileName(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read glyph %s: %w", name, err)
	}
	return decodeGlyph(name, data)
}

func (b *DirectoryBackend) GetGlyphMap(context.Context) (map[string][]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make(map[string][]int, len(b.glyphMap))
	for name, codePoints := range b.glyphMap {
		result[name] = append([]int{}, codePoints...)
	}
	return result, nil
}

func (b *DirectoryBackend) GetGlobalAxes(context.Context) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	axes := make([]map[string]any, len(b.data.Axes))
	for i, axis := range b.data.Axes {
		axes[i] = changes.DeepCopy(axis).(map[string]any)
	}
	return axes, nil
}

func (b *DirectoryBackend) GetUnitsPerEm(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.UnitsPerEm, nil
}

func (b *DirectoryBackend) PutUnitsPerEm(_ context.Context, upm int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.UnitsPerEm = upm
	return b.writeFontData()
}

func (b *DirectoryBackend) PutGlobalAxes(_ context.Context, axes []map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.Axes = make([]map[string]any, len(axes))
	for i, axis := range axes {
		b.data.Axes[i] = changes.DeepCopy(axis).(map[string]any)
	}
	return b.writeFontData()
}

func (b *DirectoryBackend) PutGlyph(_ context.Context, name string, glyph map[string]any, codePoints []int) error {
	if err := validateGlyph(name, glyph); err != nil {
		return err
	}
	data, err := json.MarshalIndent(glyph, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidGlyph, name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	fileName := glyphFileName(name)
	modTime, err := writeFileAtomic(filepath.Join(b.glyphsDir(), fileName), append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write glyph %s: %w", name, err)
	}
	b.written[fileName] = modTime
	b.glyphMap[name] = append([]int{}, codePoints...)
	return b.writeGlyphInfo()
}

func (b *DirectoryBackend) DeleteGlyph(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.glyphMap[name]; !ok {
		return nil
	}
	fileName := glyphFileName(name)
	if err := os.Remove(filepath.Join(b.glyphsDir(), fileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete glyph %s: %w", name, err)
	}
	delete(b.written, fileName)
	delete(b.glyphMap, name)
	return b.writeGlyphInfo()
}

func (b *DirectoryBackend) Close() error {
	return nil
}

// WatchExternalChanges watches the glyphs directory. Glyph files created
// by other programs are added to the glyph map, removed files are deleted
// from it, and modified files are reported for reloading.
func (b *DirectoryBackend) WatchExternalChanges(ctx context.Context) (<-chan ExternalChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(b.glyphsDir()); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch glyphs directory: %w", err)
	}

	out := make(chan ExternalChange)
	go b.watchLoop(ctx, watcher, out)
	b.logger.Info("Watching for external changes", map[string]interface{}{"path": b.path})
	return out, nil
}

func (b *DirectoryBackend) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- ExternalChange) {
	defer close(out)
	defer watcher.Close()

	pending := make(map[string]struct{})
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			fileName := filepath.Base(event.Name)
			if _, ok := glyphNameFromFile(fileName); !ok {
				continue
			}
			pending[fileName] = struct{}{}
			debounce = time.After(b.debounce)

		case <-debounce:
			debounce = nil
			fileNames := make([]string, 0, len(pending))
			for fileName := range pending {
				fileNames = append(fileNames, fileName)
			}
			pending = make(map[string]struct{})

			change, ok := b.collectExternalChange(fileNames)
			if !ok {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Error("File watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// collectExternalChange compares the named glyph files with what this
// backend last wrote.
func (b *DirectoryBackend) collectExternalChange(fileNames []string) (ExternalChange, bool) {
	sort.Strings(fileNames)

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		glyphMapChanges []changes.Change
		reload          []string
	)
	for _, fileName := range fileNames {
		name, _ := glyphNameFromFile(fileName)
		_, known := b.glyphMap[name]

		info, err := os.Stat(filepath.Join(b.glyphsDir(), fileName))
		switch {
		case errors.Is(err, os.ErrNotExist):
			if known {
				delete(b.glyphMap, name)
				delete(b.written, fileName)
				glyphMapChanges = append(glyphMapChanges, changes.NewChange(nil, "d", name))
			}
		case err != nil:
			b.logger.Warn("Cannot stat glyph file", map[string]interface{}{
				"file":  fileName,
				"error": err.Error(),
			})
		case !known:
			b.glyphMap[name] = []int{}
			b.written[fileName] = info.ModTime()
			glyphMapChanges = append(glyphMapChanges, changes.NewChange(nil, "=", name, []any{}))
		case !info.ModTime().Equal(b.written[fileName]):
			b.written[fileName] = info.ModTime()
			reload = append(reload, name)
		}
	}

	if len(glyphMapChanges) > 0 {
		if err := b.writeGlyphInfo(); err != nil {
			b.logger.Error("Failed to update glyph info", map[string]interface{}{"error": err.Error()})
		}
	}
	if len(glyphMapChanges) == 0 && len(reload) == 0 {
		return ExternalChange{}, false
	}

	result := ExternalChange{Reload: reload}
	if len(glyphMapChanges) > 0 {
		change := changes.Consolidate(glyphMapChanges, "glyphMap")
		result.Change = &change
	}
	b.logger.Info("External changes", map[string]interface{}{
		"glyph_map_changes": len(glyphMapChanges),
		"reload":            reload,
	})
	return result, true
}

// readGlyphInfo reads "glyph name;code points" rows with code points
// written as comma-separated U+XXXX values.
func (b *DirectoryBackend) readGlyphInfo() error {
	file, err := os.Open(filepath.Join(b.path, glyphInfoFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open glyph info: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil || len(header) < 2 || header[0] != "glyph name" || header[1] != "code points" {
		return fmt.Errorf("invalid glyph info header in %s", glyphInfoFileName)
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read glyph info: %w", err)
		}
		codePoints := []int{}
		if len(row) > 1 {
			if codePoints, err = parseCodePoints(row[1]); err != nil {
				return fmt.Errorf("glyph %s: %w", row[0], err)
			}
		}
		b.glyphMap[row[0]] = codePoints
	}
}

func parseCodePoints(cell string) ([]int, error) {
	codePoints := []int{}
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return codePoints, nil
	}
	for _, s := range strings.Split(cell, ",") {
		s = strings.TrimPrefix(strings.TrimSpace(s), "U+")
		cp, err := strconv.ParseInt(s, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid code point %q", s)
		}
		codePoints = append(codePoints, int(cp))
	}
	return codePoints, nil
}

// writeGlyphInfo must be called with mu held.
func (b *DirectoryBackend) writeGlyphInfo() error {
	names := make([]string, 0, len(b.glyphMap))
	for name := range b.glyphMap {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	writer.Comma = ';'
	_ = writer.Write([]string{"glyph name", "code points"})
	for _, name := range names {
		cells := make([]string, len(b.glyphMap[name]))
		for i, cp := range b.glyphMap[name] {
			cells[i] = fmt.Sprintf("U+%04X", cp)
		}
		_ = writer.Write([]string{name, strings.Join(cells, ",")})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to encode glyph info: %w", err)
	}
	if _, err := writeFileAtomic(filepath.Join(b.path, glyphInfoFileName), []byte(sb.String())); err != nil {
		return fmt.Errorf("failed to write glyph info: %w", err)
	}
	return nil
}

func (b *DirectoryBackend) readFontData() error {
	data, err := os.ReadFile(filepath.Join(b.path, fontDataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read font data: %w", err)
	}
	if err := json.Unmarshal(data, &b.data); err != nil {
		return fmt.Errorf("failed to decode font data: %w", err)
	}
	if b.data.UnitsPerEm <= 0 {
		b.data.UnitsPerEm = DefaultUnitsPerEm
	}
	if b.data.Axes == nil {
		b.data.Axes = []map[string]any{}
	}
	return nil
}

// writeFontData must be called with mu held.
func (b *DirectoryBackend) writeFontData() error {
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode font data: %w", err)
	}
	if _, err := writeFileAtomic(filepath.Join(b.path, fontDataFileName), append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write font data: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path through a temporary file in the same
// directory and returns the new modification time.
func writeFileAtomic(path string, data []byte) (time.Time, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return time.Time{}, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return time.Time{}, err
	}
	if err := tmp.Close(); err != nil {
		return time.Time{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
