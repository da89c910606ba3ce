// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command insight starts the Aleutian Insight routing API server.
//
// Aleutian Insight maps free-text analytical questions onto analysis
// endpoints using:
//   - Curated pattern matching (phrases, keywords, avoid-terms)
//   - Embedding similarity against endpoint descriptions
//   - Field validation against the active dataset schema
//   - A persistent decision cache keyed by normalized query + schema version
//
// Usage:
//
//	go run ./cmd/insight
//	go run ./cmd/insight -port 9090 -catalog ./catalog.yaml
//
// With semantic scoring (requires an embedding provider):
//
//	EMBEDDING_PROVIDER=ollama EMBEDDING_SERVICE_URL=http://localhost:11434 go run ./cmd/insight
//	EMBEDDING_PROVIDER=openai EMBEDDING_API_KEY=sk-... go run ./cmd/insight
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/healthz
//
//	# Route a query
//	curl -X POST http://localhost:8080/api/v1/route \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "how is foot traffic trending near downtown?"}'
//
//	# Dry-run with the full score breakdown
//	curl 'http://localhost:8080/api/v1/debug/route/explain?q=compare+demographics'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianInsight/services/insight"
	"github.com/AleutianAI/AleutianInsight/services/insight/config"
	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
	badgerstore "github.com/AleutianAI/AleutianInsight/services/insight/storage/badger"
)

const warmupTimeout = 2 * time.Minute

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	catalogPath := flag.String("catalog", "", "Endpoint catalog YAML file (default: embedded catalog, or CATALOG_OBJECT)")
	schemasPath := flag.String("schemas", "", "Field schemas YAML file (default: embedded schemas)")
	fieldsPath := flag.String("fields", "", "Field dictionary YAML file (default: embedded dictionary)")
	dataDir := flag.String("data-dir", "", "BadgerDB directory (default: ~/.aleutian/insight)")
	cacheBackend := flag.String("cache", "badger", "Decision cache backend: badger, redis, memory, off")
	traceStdout := flag.Bool("trace-stdout", false, "Print spans to stdout (local debugging)")
	metricStdout := flag.Bool("metric-stdout", false, "Print metrics to stdout (local debugging)")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	setupLogging(*debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := setupTelemetry(ctx, *traceStdout, *metricStdout)

	// Catalog: explicit file > GCS object > embedded default.
	catalog, catalogFile, err := loadCatalog(ctx, *catalogPath)
	if err != nil {
		slog.Error("Failed to load endpoint catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Endpoint catalog loaded",
		slog.String("version", catalog.Version),
		slog.Int("endpoints", len(catalog.Endpoints)))

	schemas, err := loadSchemas(*schemasPath)
	if err != nil {
		slog.Error("Failed to load field schemas", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fields := loadFieldDictionary(*fieldsPath)

	// Service-global BadgerDB for the decision cache and endpoint vectors.
	// Graceful degradation: if unavailable, routing continues without
	// persistence.
	db := openBadger(*dataDir)

	cache := openDecisionCache(ctx, *cacheBackend, db)

	embeddings := setupEmbeddings(db)

	sink, sinkEnabled := routing.NewInfluxSinkFromEnv(slog.Default())
	var engineSink routing.DecisionSink
	if sinkEnabled {
		engineSink = sink
		slog.Info("InfluxDB decision sink enabled")
	}

	engine, err := routing.NewEngine(routing.Options{
		Catalog:    catalog,
		Schemas:    schemas,
		Fields:     fields,
		Embeddings: embeddings,
		Cache:      cache,
		Sink:       engineSink,
	})
	if err != nil {
		slog.Error("Failed to build routing engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	loader := catalogLoader(catalogFile)
	svc := insight.NewService(engine, schemas, loader, slog.Default())
	handlers := insight.NewHandlers(svc)

	// Semantic warmup runs in the background so startup is non-blocking;
	// the warmup guard rejects /route with 503 until it resolves.
	startWarmup(engine, embeddings)

	// Hot-reload: swap the engine snapshot whenever the catalog file is
	// rewritten. Only meaningful when the catalog came from a file.
	if catalogFile != "" {
		holder := config.NewCatalogHolder(catalog)
		onSwap := func(_, next *config.EndpointCatalog) {
			reloadCtx, reloadCancel := context.WithTimeout(context.Background(), warmupTimeout)
			defer reloadCancel()
			if err := engine.Reload(reloadCtx, next); err != nil {
				slog.Warn("Engine reload after file change failed",
					slog.String("error", err.Error()))
			}
		}
		if err := config.WatchCatalogFile(ctx, catalogFile, holder, onSwap, slog.Default()); err != nil {
			slog.Warn("Catalog file watch unavailable, hot-reload disabled",
				slog.String("path", catalogFile),
				slog.String("error", err.Error()))
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-insight"))
	if *debug {
		router.Use(gin.Logger())
	}

	api := router.Group("/api/v1")
	insight.RegisterRoutes(api, handlers)

	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/readyz", handlers.HandleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, embeddings != nil)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Insight server")
		cancel()
		if sinkEnabled {
			sink.Close()
		}
		if cache != nil {
			if err := cache.Close(); err != nil {
				slog.Warn("Failed to close decision cache", slog.String("error", err.Error()))
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close BadgerDB", slog.String("error", err.Error()))
			}
		}
		shutdownTelemetry()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Insight server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler: human-readable text
// on a TTY, JSON otherwise.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupTelemetry wires the W3C propagator, the tracer provider, and the
// metric pipeline. Returns a shutdown function for the signal handler.
//
// Traces export over OTLP gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set,
// and to stdout when -trace-stdout is passed. Metrics always bridge into
// the Prometheus default registry served at /metrics; -metric-stdout adds
// a periodic stdout reader.
func setupTelemetry(ctx context.Context, traceStdout, metricStdout bool) func() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	res := resource.NewSchemaless(attribute.String("service.name", "aleutian-insight"))

	var traceOpts []sdktrace.TracerProviderOption
	traceOpts = append(traceOpts, sdktrace.WithResource(res))

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			slog.Warn("OTLP gRPC connection failed, trace export disabled",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()))
		} else {
			exporter, expErr := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
			if expErr != nil {
				slog.Warn("OTLP trace exporter failed, trace export disabled",
					slog.String("error", expErr.Error()))
			} else {
				traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
				slog.Info("OTLP trace export enabled", slog.String("endpoint", endpoint))
			}
		}
	}
	if traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Warn("stdout trace exporter failed", slog.String("error", err.Error()))
		} else {
			traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	var metricOpts []sdkmetric.Option
	promExporter, err := otelprom.New()
	if err != nil {
		slog.Warn("Prometheus metric exporter failed", slog.String("error", err.Error()))
	} else {
		metricOpts = append(metricOpts, sdkmetric.WithReader(promExporter))
	}
	if metricStdout {
		exporter, expErr := stdoutmetric.New()
		if expErr != nil {
			slog.Warn("stdout metric exporter failed", slog.String("error", expErr.Error()))
		} else {
			metricOpts = append(metricOpts, sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(exporter)))
		}
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Tracer provider shutdown failed", slog.String("error", err.Error()))
		}
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Meter provider shutdown failed", slog.String("error", err.Error()))
		}
	}
}

// loadCatalog resolves the catalog source with precedence:
// -catalog flag, then CATALOG_OBJECT (gs:// URI), then the embedded default.
// The returned path is non-empty only for the file source, which is the
// only source the hot-reload watcher can track.
func loadCatalog(ctx context.Context, path string) (*config.EndpointCatalog, string, error) {
	if path != "" {
		catalog, err := config.LoadEndpointCatalogFile(ctx, path)
		if err != nil {
			return nil, "", fmt.Errorf("catalog file %s: %w", path, err)
		}
		return catalog, path, nil
	}

	if uri := os.Getenv("CATALOG_OBJECT"); uri != "" {
		data, err := config.FetchCatalogObject(ctx, uri)
		if err != nil {
			slog.Warn("GCS catalog fetch failed, falling back to embedded default",
				slog.String("uri", uri),
				slog.String("error", err.Error()))
		} else {
			catalog, loadErr := config.LoadEndpointCatalog(ctx, data)
			if loadErr != nil {
				slog.Warn("GCS catalog rejected, falling back to embedded default",
					slog.String("uri", uri),
					slog.String("error", loadErr.Error()))
			} else {
				slog.Info("Endpoint catalog fetched from GCS", slog.String("uri", uri))
				return catalog, "", nil
			}
		}
	}

	catalog, err := config.GetEndpointCatalog(ctx)
	return catalog, "", err
}

// loadFieldDictionary loads the synonym dictionary from the given file, or
// the embedded default when the path is empty. A nil return disables synonym
// resolution but never stops the server.
func loadFieldDictionary(path string) *config.FieldDictionary {
	if path == "" {
		dict, err := config.GetFieldDictionary()
		if err != nil {
			slog.Warn("Field dictionary unavailable, synonym resolution disabled",
				slog.String("error", err.Error()))
			return nil
		}
		return dict
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Field dictionary file unreadable, synonym resolution disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	dict, err := config.LoadFieldDictionary(data)
	if err != nil {
		slog.Warn("Field dictionary rejected, synonym resolution disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	return dict
}

// loadSchemas loads field schemas from the given file, or the embedded
// default when the path is empty.
func loadSchemas(path string) (*config.StaticSchemaProvider, error) {
	if path == "" {
		return config.GetFieldSchemas()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schemas file %s: %w", path, err)
	}
	return config.LoadFieldSchemas(data)
}

// openBadger opens the service-global BadgerDB, or returns nil when it
// cannot be opened. Nil disables decision and vector persistence but never
// stops the server.
func openBadger(dir string) *badgerstore.DB {
	if dir == "" {
		dir = os.Getenv("INSIGHT_DATA_DIR")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Warn("Cannot resolve home directory, persistence disabled",
				slog.String("error", err.Error()))
			return nil
		}
		dir = filepath.Join(home, ".aleutian", "insight")
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dir
	cfg.Logger = slog.Default()
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		slog.Warn("BadgerDB unavailable, decision and vector persistence disabled",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return nil
	}
	slog.Info("BadgerDB opened", slog.String("path", dir))
	return db
}

// openDecisionCache selects the decision cache backend. Unknown backends
// and unreachable Redis degrade to in-memory with a Warn.
func openDecisionCache(ctx context.Context, backend string, db *badgerstore.DB) routing.DecisionCache {
	switch backend {
	case "off":
		slog.Info("Decision cache disabled")
		return nil

	case "memory":
		return routing.NewMemoryDecisionCache()

	case "redis":
		addr := os.Getenv("INSIGHT_REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		cache, err := routing.NewRedisDecisionCache(ctx, addr, os.Getenv("INSIGHT_REDIS_PASSWORD"), 0)
		if err != nil {
			slog.Warn("Redis unreachable, decision cache falling back to memory",
				slog.String("addr", addr),
				slog.String("error", err.Error()))
			return routing.NewMemoryDecisionCache()
		}
		slog.Info("Redis decision cache connected", slog.String("addr", addr))
		return cache

	case "badger":
		if db == nil {
			slog.Warn("BadgerDB unavailable, decision cache falling back to memory")
			return routing.NewMemoryDecisionCache()
		}
		return routing.NewBadgerDecisionCache(db)

	default:
		slog.Warn("Unknown cache backend, decision cache falling back to memory",
			slog.String("backend", backend))
		return routing.NewMemoryDecisionCache()
	}
}

// setupEmbeddings builds the embedding layer from environment configuration.
// Returns nil when no provider is configured, which runs the engine in
// pattern-only mode.
func setupEmbeddings(db *badgerstore.DB) *routing.EndpointEmbeddingCache {
	provider, err := routing.NewEmbedProviderFromEnv(slog.Default())
	if err != nil {
		slog.Warn("Embedding provider unavailable, running pattern-only",
			slog.String("error", err.Error()))
		return nil
	}

	var store routing.VectorStore
	if db != nil {
		store = routing.NewBadgerVectorStore(db)
	}
	slog.Info("Embedding provider configured", slog.String("model", provider.Model()))
	return routing.NewEndpointEmbeddingCache(provider, store, slog.Default())
}

// startWarmup embeds the catalog in the background. The warmup guard keeps
// /route returning 503 until this resolves; a nil embedding layer resolves
// immediately as degraded (pattern-only).
func startWarmup(engine *routing.Engine, embeddings *routing.EndpointEmbeddingCache) {
	if embeddings == nil {
		insight.MarkWarmupDegraded()
		slog.Info("No embedding provider, serving pattern-only routing")
		return
	}

	slog.Info("Server starting, endpoint embedding warmup in progress...")
	go func() {
		// Panic recovery ensures the warmup state always resolves. Without
		// this, a panic in the embedding client would leave the server
		// permanently returning 503.
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("Panic in warmup goroutine recovered",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
				insight.MarkWarmupDegraded()
			}
		}()

		warmupCtx, warmupCancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer warmupCancel()

		startTime := time.Now()
		if err := engine.WarmSemantic(warmupCtx); err != nil {
			slog.Warn("Endpoint embedding warmup failed, serving pattern-only routing",
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(startTime)))
			insight.MarkWarmupDegraded()
			return
		}

		insight.MarkWarmupComplete()
		slog.Info("Endpoint embedding warmup completed",
			slog.Duration("duration", time.Since(startTime)))
	}()
}

// catalogLoader builds the loader behind POST /catalog/reload. A file-backed
// catalog re-reads the file; otherwise the loader is nil and explicit reload
// is unavailable.
func catalogLoader(path string) insight.CatalogLoader {
	if path == "" {
		return nil
	}
	return func(ctx context.Context) (*config.EndpointCatalog, error) {
		return config.LoadEndpointCatalogFile(ctx, path)
	}
}

func printBanner(port int, semanticEnabled bool) {
	semanticStatus := "DISABLED (set EMBEDDING_PROVIDER to enable)"
	if semanticEnabled {
		semanticStatus = "ENABLED (warming endpoint vectors)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN INSIGHT SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Hybrid query routing for analytics endpoints.                    ║
║  Semantic Scoring: %-46s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/healthz                       │  ║
║  │                                                             │  ║
║  │ # Route a query                                             │  ║
║  │ curl -X POST http://localhost:%d/api/v1/route \        │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"query": "foot traffic trends near downtown"}'       │  ║
║  │                                                             │  ║
║  │ # Explain a decision without caching it                     │  ║
║  │ curl 'http://localhost:%d/api/v1/debug/route/explain\  │  ║
║  │ ?q=compare+demographics'                                    │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Route: POST /api/v1/route                                   ║
║  ├── Catalog: /endpoints, /endpoints/:id, /catalog/reload        ║
║  ├── Schema: /schema/:datasetId                                  ║
║  ├── Debug: /route/explain, /cache/*, /decisions[/stream]        ║
║  └── Ops: /healthz, /readyz, /metrics                            ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, semanticStatus, port, port, port)
}
