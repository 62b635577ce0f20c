package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// S3API is the part of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds configuration for S3Backend.
type S3Config struct {
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Prefix         string        `mapstructure:"prefix"`
	Endpoint       string        `mapstructure:"endpoint"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// fontInfo is stored next to the glyphs as font.json.
type fontInfo struct {
	UnitsPerEm int              `json:"unitsPerEm"`
	Axes       []map[string]any `json:"axes"`
	GlyphMap   map[string][]int `json:"glyphMap"`
}

// S3Backend stores one JSON object per glyph under a key prefix.
type S3Backend struct {
	client  S3API
	bucket  string
	prefix  string
	timeout time.Duration
	logger  observability.Logger

	mu   sync.Mutex
	info *fontInfo
}

// NewS3Backend creates a backend using the default AWS credential chain.
func NewS3Backend(ctx context.Context, cfg S3Config, logger observability.Logger) (*S3Backend, error) {
	var options []func(*config.LoadOptions) error
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	b := NewS3BackendWithClient(client, cfg.Bucket, cfg.Prefix, logger)
	b.timeout = cfg.RequestTimeout
	return b, nil
}

// NewS3BackendWithClient creates a backend over an existing client.
func NewS3BackendWithClient(client S3API, bucket, prefix string, logger observability.Logger) *S3Backend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: observability.OrNoop(logger).WithPrefix("s3-backend"),
	}
}

func (b *S3Backend) glyphKey(name string) string {
	return b.prefix + "glyphs/" + url.PathEscape(name) + ".json"
}

func (b *S3Backend) infoKey() string {
	return b.prefix + "font.json"
}

func (b *S3Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return ctx, func() {}
}

// getObject returns nil data when the key does not exist.
func (b *S3Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (b *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// loadInfo must be called with mu held.
func (b *S3Backend) loadInfo(ctx context.Context) (*fontInfo, error) {
	if b.info != nil {
		return b.info, nil
	}
	data, err := b.getObject(ctx, b.infoKey())
	if err != nil {
		return nil, err
	}
	info := &fontInfo{UnitsPerEm: DefaultUnitsPerEm}
	if data != nil {
		if err := json.Unmarshal(data, info); err != nil {
			return nil, fmt.Errorf("failed to decode font info: %w", err)
		}
	}
	if info.GlyphMap == nil {
		info.GlyphMap = make(map[string][]int)
	}
	if info.Axes == nil {
		info.Axes = []map[string]any{}
	}
	b.info = info
	return info, nil
}

// storeInfo must be called with mu held.
func (b *S3Backend) storeInfo(ctx context.Context, info *fontInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode font info: %w", err)
	}
	if err := b.putObject(ctx, b.infoKey(), data); err != nil {
		return err
	}
	b.info = info
	return nil
}

func (b *S3Backend) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	data, err := b.getObject(ctx, b.glyphKey(name))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeGlyph(name, data)
}

func (b *S3Backend) GetGlyphMap(ctx context.Context) (map[string][]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]int, len(info.GlyphMap))
	for name, codePoints := range info.GlyphMap {
		result[name] = append([]int{}, codePoints...)
	}
	return result, nil
}

func (b *S3Backend) GetGlobalAxes(ctx context.Context) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return nil, err
	}
	return append([]map[string]any{}, info.Axes...), nil
}

func (b *S3Backend) GetUnitsPerEm(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.UnitsPerEm, nil
}

// PutUnitsPerEm stores the font's units per em.
func (b *S3Backend) PutUnitsPerEm(ctx context.Context, upm int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return err
	}
	next := *info
	next.UnitsPerEm = upm
	return b.storeInfo(ctx, &next)
}

// PutGlobalAxes stores the font's axes.
func (b *S3Backend) PutGlobalAxes(ctx context.Context, axes []map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return err
	}
	next := *info
	next.Axes = axes
	return b.storeInfo(ctx, &next)
}

func (b *S3Backend) PutGlyph(ctx context.Context, name string, glyph map[string]any, codePoints []int) error {
	if err := validateGlyph(name, glyph); err != nil {
		return err
	}
	data, err := encodeGlyph(name, glyph)
	if err != nil {
		return err
	}
	if err := b.putObject(ctx, b.glyphKey(name), data); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return err
	}
	next := *info
	next.GlyphMap = make(map[string][]int, len(info.GlyphMap)+1)
	for n, cps := range info.GlyphMap {
		next.GlyphMap[n] = cps
	}
	next.GlyphMap[name] = append([]int{}, codePoints...)
	if err := b.storeInfo(ctx, &next); err != nil {
		return err
	}
	b.logger.Debug("Glyph stored", map[string]interface{}{
		"glyph": name,
		"key":   b.glyphKey(name),
	})
	return nil
}

func (b *S3Backend) DeleteGlyph(ctx context.Context, name string) error {
	reqCtx, cancel := b.withTimeout(ctx)
	_, err := b.client.DeleteObject(reqCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.glyphKey(name)),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to delete glyph %s: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.loadInfo(ctx)
	if err != nil {
		return err
	}
	if _, ok := info.GlyphMap[name]; !ok {
		return nil
	}
	next := *info
	next.GlyphMap = make(map[string][]int, len(info.GlyphMap))
	for n, cps := range info.GlyphMap {
		if n != name {
			next.GlyphMap[n] = cps
		}
	}
	return b.storeInfo(ctx, &next)
}

func (b *S3Backend) Close() error {
	return nil
}
