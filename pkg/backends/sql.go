package backends

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// SQLConfig holds database configuration for SQLBackend.
type SQLConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

const (
	infoUnitsPerEm = "unitsPerEm"
	infoAxes       = "axes"
)

type glyphRow struct {
	Name       string `db:"name"`
	Data       string `db:"data"`
	CodePoints string `db:"code_points"`
}

// SQLBackend stores glyphs as JSON documents in a SQL database.
type SQLBackend struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  observability.Logger
}

// NewSQLBackend connects to the database and migrates its schema.
func NewSQLBackend(ctx context.Context, cfg SQLConfig, logger observability.Logger) (*SQLBackend, error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if _, err := Migrate(ctx, cfg.Driver, cfg.DSN, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	b := NewSQLBackendWithDB(db, logger)
	b.timeout = cfg.QueryTimeout
	return b, nil
}

// NewSQLBackendWithDB wraps an existing connection whose schema is
// already migrated.
func NewSQLBackendWithDB(db *sqlx.DB, logger observability.Logger) *SQLBackend {
	return &SQLBackend{
		db:     db,
		logger: observability.OrNoop(logger).WithPrefix("sql-backend"),
	}
}

func (b *SQLBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return ctx, func() {}
}

func (b *SQLBackend) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var row glyphRow
	query := b.db.Rebind(`SELECT name, data, code_points FROM glyphs WHERE name = ?`)
	if err := b.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get glyph %s: %w", name, err)
	}
	return decodeGlyph(name, []byte(row.Data))
}

func (b *SQLBackend) GetGlyphMap(ctx context.Context) (map[string][]int, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var rows []glyphRow
	if err := b.db.SelectContext(ctx, &rows, `SELECT name, code_points FROM glyphs ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list glyphs: %w", err)
	}
	glyphMap := make(map[string][]int, len(rows))
	for _, row := range rows {
		var codePoints []int
		if err := json.Unmarshal([]byte(row.CodePoints), &codePoints); err != nil {
			return nil, fmt.Errorf("failed to decode code points of %s: %w", row.Name, err)
		}
		if codePoints == nil {
			codePoints = []int{}
		}
		glyphMap[row.Name] = codePoints
	}
	return glyphMap, nil
}

func (b *SQLBackend) getInfo(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var value string
	query := b.db.Rebind(`SELECT value FROM font_info WHERE key = ?`)
	if err := b.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (b *SQLBackend) putInfo(ctx context.Context, key, value string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(`INSERT INTO font_info (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := b.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) GetUnitsPerEm(ctx context.Context) (int, error) {
	value, ok, err := b.getInfo(ctx, infoUnitsPerEm)
	if err != nil || !ok {
		return DefaultUnitsPerEm, err
	}
	upm, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid unitsPerEm %q: %w", value, err)
	}
	return upm, nil
}

// PutUnitsPerEm stores the font's units per em.
func (b *SQLBackend) PutUnitsPerEm(ctx context.Context, upm int) error {
	return b.putInfo(ctx, infoUnitsPerEm, strconv.Itoa(upm))
}

func (b *SQLBackend) GetGlobalAxes(ctx context.Context) ([]map[string]any, error) {
	value, ok, err := b.getInfo(ctx, infoAxes)
	if err != nil || !ok {
		return []map[string]any{}, err
	}
	var axes []map[string]any
	if err := json.Unmarshal([]byte(value), &axes); err != nil {
		return nil, fmt.Errorf("failed to decode axes: %w", err)
	}
	return axes, nil
}

// PutGlobalAxes stores the font's axes.
func (b *SQLBackend) PutGlobalAxes(ctx context.Context, axes []map[string]any) error {
	data, err := json.Marshal(axes)
	if err != nil {
		return fmt.Errorf("failed to encode axes: %w", err)
	}
	return b.putInfo(ctx, infoAxes, string(data))
}

func (b *SQLBackend) PutGlyph(ctx context.Context, name string, glyph map[string]any, codePoints []int) error {
	if err := validateGlyph(name, glyph); err != nil {
		return err
	}
	data, err := encodeGlyph(name, glyph)
	if err != nil {
		return err
	}
	if codePoints == nil {
		codePoints = []int{}
	}
	cps, err := json.Marshal(codePoints)
	if err != nil {
		return fmt.Errorf("failed to encode code points of %s: %w", name, err)
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(`INSERT INTO glyphs (name, data, code_points) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, code_points = excluded.code_points`)
	if _, err := b.db.ExecContext(ctx, query, name, string(data), string(cps)); err != nil {
		return fmt.Errorf("failed to put glyph %s: %w", name, err)
	}
	b.logger.Debug("Glyph stored", map[string]interface{}{
		"glyph": name,
		"bytes": len(data),
	})
	return nil
}

func (b *SQLBackend) DeleteGlyph(ctx context.Context, name string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(`DELETE FROM glyphs WHERE name = ?`)
	if _, err := b.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete glyph %s: %w", name, err)
	}
	return nil
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
