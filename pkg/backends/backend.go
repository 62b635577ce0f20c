// Package backends stores fonts. Glyphs are JSON-shaped documents
// (map[string]any) as produced by the glyph package.
package backends

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

// DefaultUnitsPerEm is reported when a font does not store one.
const DefaultUnitsPerEm = 1000

// ErrInvalidGlyph is returned for glyph names or documents a backend
// cannot store.
var ErrInvalidGlyph = pkgerrors.New("INVALID_GLYPH", "invalid glyph", pkgerrors.ClassValidation)

// Backend is a readable font.
type Backend interface {
	// GetGlyph returns nil without an error when the glyph does not exist.
	GetGlyph(ctx context.Context, name string) (map[string]any, error)
	// GetGlyphMap maps glyph names to their code points.
	GetGlyphMap(ctx context.Context) (map[string][]int, error)
	GetGlobalAxes(ctx context.Context) ([]map[string]any, error)
	GetUnitsPerEm(ctx context.Context) (int, error)
	Close() error
}

// WritableBackend is a font that can be edited.
type WritableBackend interface {
	Backend
	PutGlyph(ctx context.Context, name string, glyph map[string]any, codePoints []int) error
	DeleteGlyph(ctx context.Context, name string) error
}

//go:embed glyph_schema.json
var glyphSchemaJSON []byte

// glyphSchema checks the structure a backend relies on. Unknown keys are
// allowed.
var glyphSchema = mustLoadSchema(glyphSchemaJSON)

func mustLoadSchema(schema []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("failed to load glyph schema: %v", err))
	}
	return s
}

func validateGlyph(name string, glyph map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: empty glyph name", ErrInvalidGlyph)
	}
	if glyph == nil {
		return fmt.Errorf("%w: %s has no document", ErrInvalidGlyph, name)
	}
	result, err := glyphSchema.Validate(gojsonschema.NewGoLoader(glyph))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidGlyph, name, err)
	}
	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidGlyph, name, strings.Join(messages, "; "))
	}
	return nil
}

func encodeGlyph(name string, glyph map[string]any) ([]byte, error) {
	data, err := json.Marshal(glyph)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGlyph, name, err)
	}
	return data, nil
}

func decodeGlyph(name string, data []byte) (map[string]any, error) {
	var glyph map[string]any
	if err := json.Unmarshal(data, &glyph); err != nil {
		return nil, fmt.Errorf("failed to decode glyph %s: %w", name, err)
	}
	return glyph, nil
}
