package backends

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing glyph is nil", func(t *testing.T) {
		b := NewMemoryBackend(0)
		g, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, g)

		upm, err := b.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultUnitsPerEm, upm)
	})

	t.Run("Stored glyphs are copies", func(t *testing.T) {
		b := NewMemoryBackend(2048)
		doc := map[string]any{"name": "A", "sources": []any{}}
		require.NoError(t, b.PutGlyph(ctx, "A", doc, []int{65}))

		doc["name"] = "changed"
		got, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "A", got["name"])

		got["name"] = "changed again"
		again, _ := b.GetGlyph(ctx, "A")
		assert.Equal(t, "A", again["name"])

		glyphMap, err := b.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]int{"A": {65}}, glyphMap)
	})

	t.Run("Delete removes glyph and mapping", func(t *testing.T) {
		b := NewMemoryBackend(1000)
		require.NoError(t, b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, []int{65}))
		require.NoError(t, b.DeleteGlyph(ctx, "A"))

		g, _ := b.GetGlyph(ctx, "A")
		assert.Nil(t, g)
		glyphMap, _ := b.GetGlyphMap(ctx)
		assert.Empty(t, glyphMap)
	})

	t.Run("Rejects invalid glyphs", func(t *testing.T) {
		b := NewMemoryBackend(1000)
		assert.ErrorIs(t, b.PutGlyph(ctx, "", map[string]any{}, nil), ErrInvalidGlyph)
		assert.ErrorIs(t, b.PutGlyph(ctx, "A", nil, nil), ErrInvalidGlyph)
	})

	t.Run("Rejects malformed glyph documents", func(t *testing.T) {
		b := NewMemoryBackend(1000)
		malformed := []map[string]any{
			{"name": 7},
			{"name": "A", "sources": "default"},
			{"name": "A", "layers": map[string]any{"default": map[string]any{}}},
			{"name": "A", "layers": map[string]any{"default": map[string]any{"glyph": map[string]any{"xAdvance": "wide"}}}},
			{"name": "A", "layers": map[string]any{"default": map[string]any{"glyph": map[string]any{
				"components": []any{map[string]any{"name": ""}},
			}}}},
			{"name": "A", "sources": []any{map[string]any{"location": map[string]any{"wght": "bold"}}}},
		}
		for _, doc := range malformed {
			err := b.PutGlyph(ctx, "A", doc, nil)
			assert.ErrorIs(t, err, ErrInvalidGlyph, "%v", doc)
			assert.True(t, pkgerrors.IsValidationError(err))
		}

		g, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, g)
	})

	t.Run("Accepts glyphs with extra keys", func(t *testing.T) {
		b := NewMemoryBackend(1000)
		doc := map[string]any{
			"name":    "A",
			"note":    "kept",
			"sources": []any{map[string]any{"name": "default", "layerName": "default", "location": map[string]any{"wght": 400}}},
			"layers": map[string]any{"default": map[string]any{"glyph": map[string]any{
				"xAdvance":   500,
				"components": []any{map[string]any{"name": "acute", "location": map[string]any{}}},
			}}},
		}
		require.NoError(t, b.PutGlyph(ctx, "A", doc, []int{65}))
	})

	t.Run("Axes round trip", func(t *testing.T) {
		b := NewMemoryBackend(1000)
		require.NoError(t, b.PutGlobalAxes(ctx, []map[string]any{{"name": "weight", "minValue": 100.0}}))
		axes, err := b.GetGlobalAxes(ctx)
		require.NoError(t, err)
		require.Len(t, axes, 1)
		assert.Equal(t, "weight", axes[0]["name"])
	})
}

func newMockSQLBackend(t *testing.T) (*SQLBackend, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewSQLBackendWithDB(db, nil), mock
}

func TestSQLBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Gets glyph", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		rows := sqlmock.NewRows([]string{"name", "data", "code_points"}).
			AddRow("A", `{"name":"A","sources":[]}`, "[65]")
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name, data, code_points FROM glyphs WHERE name = ?")).
			WithArgs("A").
			WillReturnRows(rows)

		g, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "A", g["name"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing glyph is nil", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name, data, code_points FROM glyphs WHERE name = ?")).
			WithArgs("B").
			WillReturnRows(sqlmock.NewRows([]string{"name", "data", "code_points"}))

		g, err := b.GetGlyph(ctx, "B")
		require.NoError(t, err)
		assert.Nil(t, g)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Puts glyph with upsert", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO glyphs (name, data, code_points) VALUES (?, ?, ?)")).
			WithArgs("A", `{"name":"A"}`, "[65,97]").
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, []int{65, 97}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nil code points are stored as empty list", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO glyphs")).
			WithArgs("A.alt", `{"name":"A.alt"}`, "[]").
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, b.PutGlyph(ctx, "A.alt", map[string]any{"name": "A.alt"}, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Write errors are wrapped", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		dbErr := errors.New("database is locked")
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO glyphs")).WillReturnError(dbErr)

		err := b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, nil)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Builds glyph map", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		rows := sqlmock.NewRows([]string{"name", "code_points"}).
			AddRow("A", "[65]").
			AddRow("space", "[32,160]")
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name, code_points FROM glyphs")).WillReturnRows(rows)

		glyphMap, err := b.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]int{"A": {65}, "space": {32, 160}}, glyphMap)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Units per em defaults when unset", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM font_info WHERE key = ?")).
			WithArgs("unitsPerEm").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM font_info WHERE key = ?")).
			WithArgs("unitsPerEm").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2048"))

		upm, err := b.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultUnitsPerEm, upm)

		upm, err = b.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2048, upm)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Deletes glyph and closes", func(t *testing.T) {
		b, mock := newMockSQLBackend(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM glyphs WHERE name = ?")).
			WithArgs("A").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectClose()

		require.NoError(t, b.DeleteGlyph(ctx, "A"))
		require.NoError(t, b.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty bucket is an empty font", func(t *testing.T) {
		b := NewS3BackendWithClient(newFakeS3(), "fonts", "demo", nil)

		g, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, g)

		glyphMap, err := b.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Empty(t, glyphMap)

		upm, err := b.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultUnitsPerEm, upm)
	})

	t.Run("Stores one object per glyph under the prefix", func(t *testing.T) {
		bucket := newFakeS3()
		b := NewS3BackendWithClient(bucket, "fonts", "demo", nil)

		require.NoError(t, b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, []int{65}))
		require.NoError(t, b.PutGlyph(ctx, "a/b", map[string]any{"name": "a/b"}, nil))

		assert.ElementsMatch(t, []string{
			"demo/font.json",
			"demo/glyphs/A.json",
			"demo/glyphs/a%2Fb.json",
		}, bucket.keys())

		reopened := NewS3BackendWithClient(bucket, "fonts", "demo/", nil)
		g, err := reopened.GetGlyph(ctx, "a/b")
		require.NoError(t, err)
		assert.Equal(t, "a/b", g["name"])

		glyphMap, err := reopened.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]int{"A": {65}, "a/b": {}}, glyphMap)
	})

	t.Run("Delete updates the glyph map", func(t *testing.T) {
		bucket := newFakeS3()
		b := NewS3BackendWithClient(bucket, "fonts", "", nil)
		require.NoError(t, b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, []int{65}))
		require.NoError(t, b.DeleteGlyph(ctx, "A"))

		g, err := b.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, g)
		glyphMap, _ := b.GetGlyphMap(ctx)
		assert.Empty(t, glyphMap)
		assert.Equal(t, []string{"font.json"}, bucket.keys())
	})

	t.Run("Put failures surface", func(t *testing.T) {
		bucket := newFakeS3()
		bucket.putErr = errors.New("slow down")
		b := NewS3BackendWithClient(bucket, "fonts", "", nil)

		err := b.PutGlyph(ctx, "A", map[string]any{"name": "A"}, nil)
		assert.ErrorIs(t, err, bucket.putErr)
	})

	t.Run("Units per em persists", func(t *testing.T) {
		bucket := newFakeS3()
		b := NewS3BackendWithClient(bucket, "fonts", "", nil)
		require.NoError(t, b.PutUnitsPerEm(ctx, 2048))

		reopened := NewS3BackendWithClient(bucket, "fonts", "", nil)
		upm, err := reopened.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2048, upm)
	})
}
