package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/config"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

var (
	// Source font flags
	srcType     = flag.String("src-type", backends.TypeSQL, "Source backend type (memory, sql, s3, directory)")
	srcDriver   = flag.String("src-driver", "sqlite3", "Source database driver")
	srcDSN      = flag.String("src-dsn", "", "Source database connection string")
	srcBucket   = flag.String("src-bucket", "", "Source S3 bucket")
	srcPrefix   = flag.String("src-prefix", "", "Source S3 key prefix")
	srcRegion   = flag.String("src-region", "us-east-1", "Source S3 region")
	srcEndpoint = flag.String("src-endpoint", "", "Source S3 endpoint override")
	srcPath     = flag.String("src-path", "", "Source font directory")

	// Command flags
	schemaFlag  = flag.Bool("schema", false, "Only migrate the schema of the configured SQL backend")
	glyphs      = flag.String("glyphs", "", "Comma-separated glyph names to copy (default all)")
	concurrency = flag.Int("concurrency", 8, "Number of glyphs copied at once")
	timeout     = flag.Duration("timeout", 10*time.Minute, "Copy timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.Logging).WithPrefix("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received termination signal, canceling operations...")
		cancel()
	}()

	if *schemaFlag {
		if cfg.Backend.Type != backends.TypeSQL {
			log.Fatalf("-schema requires the sql backend, configured backend is %q", cfg.Backend.Type)
		}
		version, err := backends.Migrate(ctx, cfg.Backend.SQL.Driver, cfg.Backend.SQL.DSN, logger)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Schema is at version %d\n", version)
		return
	}

	dst, err := backends.Open(ctx, cfg.Backend, logger)
	if err != nil {
		log.Fatalf("Failed to open destination backend: %v", err)
	}
	defer dst.Close()

	src, err := backends.Open(ctx, backends.Config{
		Type: *srcType,
		SQL: backends.SQLConfig{
			Driver:       *srcDriver,
			DSN:          *srcDSN,
			MaxOpenConns: *concurrency,
			QueryTimeout: time.Minute,
		},
		S3: backends.S3Config{
			Region:         *srcRegion,
			Bucket:         *srcBucket,
			Prefix:         *srcPrefix,
			Endpoint:       *srcEndpoint,
			ForcePathStyle: *srcEndpoint != "",
			RequestTimeout: time.Minute,
		},
		Directory: backends.DirectoryConfig{Path: *srcPath},
	}, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	defer src.Close()

	var names []string
	if *glyphs != "" {
		for _, name := range strings.Split(*glyphs, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	fmt.Printf("Copying font from %s backend to %s backend...\n", *srcType, cfg.Backend.Type)
	startTime := time.Now()
	n, err := backends.Copy(ctx, dst, src, backends.CopyOptions{
		Concurrency: *concurrency,
		Glyphs:      names,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("Copy failed after %d glyphs: %v", n, err)
	}
	fmt.Printf("Copied %d glyphs in %s\n", n, time.Since(startTime))
}
