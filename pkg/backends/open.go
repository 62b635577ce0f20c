package backends

import (
	"context"
	"fmt"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// Backend types
const (
	TypeMemory    = "memory"
	TypeSQL       = "sql"
	TypeS3        = "s3"
	TypeDirectory = "directory"
)

// Config selects and configures a font backend.
type Config struct {
	Type       string          `mapstructure:"type" validate:"required"`
	UnitsPerEm int             `mapstructure:"units_per_em" validate:"gte=0"`
	SQL        SQLConfig       `mapstructure:"sql"`
	S3         S3Config        `mapstructure:"s3"`
	Directory  DirectoryConfig `mapstructure:"directory"`
}

// Validate checks the settings the selected backend cannot default.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypeSQL:
		if c.SQL.DSN == "" {
			return fmt.Errorf("backend.sql.dsn is required for the sql backend")
		}
	case TypeS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required for the s3 backend")
		}
	case TypeDirectory:
		if c.Directory.Path == "" {
			return fmt.Errorf("backend.directory.path is required for the directory backend")
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Type)
	}
	return nil
}

// Open creates the configured backend. Every backend type is writable.
func Open(ctx context.Context, cfg Config, logger observability.Logger) (WritableBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeSQL:
		return NewSQLBackend(ctx, cfg.SQL, logger)
	case TypeS3:
		return NewS3Backend(ctx, cfg.S3, logger)
	case TypeDirectory:
		return NewDirectoryBackend(cfg.Directory, logger)
	default:
		return NewMemoryBackend(cfg.UnitsPerEm), nil
	}
}
