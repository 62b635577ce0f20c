package backends

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory backend uses the configured units per em", func(t *testing.T) {
		backend, err := Open(ctx, Config{Type: TypeMemory, UnitsPerEm: 2048}, nil)
		require.NoError(t, err)
		defer backend.Close()

		upm, err := backend.GetUnitsPerEm(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2048, upm)
	})

	t.Run("S3 backend is created without contacting the bucket", func(t *testing.T) {
		t.Setenv("AWS_ACCESS_KEY_ID", "test")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

		backend, err := Open(ctx, Config{
			Type: TypeS3,
			S3: S3Config{
				Region:         "us-east-1",
				Bucket:         "fonts",
				Endpoint:       "http://localhost:4566",
				ForcePathStyle: true,
			},
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &S3Backend{}, backend)
	})

	t.Run("Directory backend can create the font", func(t *testing.T) {
		backend, err := Open(ctx, Config{
			Type:      TypeDirectory,
			Directory: DirectoryConfig{Path: filepath.Join(t.TempDir(), "font"), Create: true},
		}, nil)
		require.NoError(t, err)
		defer backend.Close()

		_, ok := backend.(WatchableBackend)
		assert.True(t, ok)
	})

	t.Run("Incomplete settings are rejected", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: TypeSQL}, nil)
		assert.ErrorContains(t, err, "backend.sql.dsn")

		_, err = Open(ctx, Config{Type: TypeS3}, nil)
		assert.ErrorContains(t, err, "backend.s3.bucket")

		_, err = Open(ctx, Config{Type: TypeDirectory}, nil)
		assert.ErrorContains(t, err, "backend.directory.path")

		_, err = Open(ctx, Config{Type: "floppy"}, nil)
		assert.ErrorContains(t, err, "unknown backend type")
	})
}
