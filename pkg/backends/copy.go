package backends

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// FontInfoWriter is implemented by backends that store font-level data.
type FontInfoWriter interface {
	PutUnitsPerEm(ctx context.Context, upm int) error
	PutGlobalAxes(ctx context.Context, axes []map[string]any) error
}

// CopyOptions controls Copy.
type CopyOptions struct {
	// Concurrency is the number of glyphs copied at once; <= 0 means 8.
	Concurrency int
	// Glyphs restricts the copy to these names when non-empty.
	Glyphs []string
	Logger observability.Logger
}

// Copy writes the glyphs of src into dst and returns how many were copied.
// Font-level data is copied too when dst implements FontInfoWriter.
func Copy(ctx context.Context, dst WritableBackend, src Backend, opts CopyOptions) (int, error) {
	logger := observability.OrNoop(opts.Logger).WithPrefix("copy")
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	glyphMap, err := src.GetGlyphMap(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read source glyph map: %w", err)
	}

	names := opts.Glyphs
	if len(names) == 0 {
		names = make([]string, 0, len(glyphMap))
		for name := range glyphMap {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	if infoWriter, ok := dst.(FontInfoWriter); ok {
		upm, err := src.GetUnitsPerEm(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read units per em: %w", err)
		}
		if err := infoWriter.PutUnitsPerEm(ctx, upm); err != nil {
			return 0, fmt.Errorf("failed to write units per em: %w", err)
		}
		axes, err := src.GetGlobalAxes(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read axes: %w", err)
		}
		if err := infoWriter.PutGlobalAxes(ctx, axes); err != nil {
			return 0, fmt.Errorf("failed to write axes: %w", err)
		}
	}

	copied := make([]bool, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			glyph, err := src.GetGlyph(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to read glyph %s: %w", name, err)
			}
			if glyph == nil {
				logger.Warn("Glyph missing from source", map[string]interface{}{"glyph": name})
				return nil
			}
			codePoints := glyphMap[name]
			if codePoints == nil {
				codePoints = []int{}
			}
			if err := dst.PutGlyph(ctx, name, glyph, codePoints); err != nil {
				return fmt.Errorf("failed to write glyph %s: %w", name, err)
			}
			copied[i] = true
			return nil
		})
	}
	err = g.Wait()

	count := 0
	for _, ok := range copied {
		if ok {
			count++
		}
	}
	logger.Info("Copied glyphs", map[string]interface{}{
		"copied":    count,
		"requested": len(names),
	})
	return count, err
}
