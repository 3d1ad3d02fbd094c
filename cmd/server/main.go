package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelweather.ai/internal/config"
	"voxelweather.ai/internal/persistence/indexdb"
	persistlog "voxelweather.ai/internal/persistence/log"
	"voxelweather.ai/internal/platform/otel"
	"voxelweather.ai/internal/sim/authority"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "keep region blobs in memory only")
		admin      = flag.Bool("admin", false, "enable loopback-only admin endpoints")
		logEvents  = flag.Bool("log_events", false, "log every begin-use event")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	deploy, err := config.LoadDeploy()
	if err != nil {
		logger.Fatalf("deploy env: %v", err)
	}
	listen := config.Or(deploy.Addr, *addr)
	cfgDir := config.Or(deploy.ConfigDir, *configDir)
	dir := config.Or(deploy.DataDir, *dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	cats, err := catalogs.Load(cfgDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(cfgDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	ctx, cancel := signalContext()
	defer cancel()

	otelShutdown, err := otel.Setup(ctx, "voxelweather-server")
	if err != nil {
		logger.Fatalf("otel: %v", err)
	}

	var (
		store indexdb.Store
		db    *indexdb.SQLiteStore
	)
	if *disableDB || deploy.DisableDB {
		logger.Printf("region store: memory only")
		store = indexdb.NewMemStore()
	} else {
		db, err = indexdb.OpenSQLite(filepath.Join(dir, "weather.sqlite"))
		if err != nil {
			logger.Fatalf("open region store: %v", err)
		}
		if err := db.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("region store: upsert catalogs: %v", err)
		}
		store = db
	}

	transitions := persistlog.NewTransitionLogger(dir)
	sink := weather.MultiSink{transitions}
	if *logEvents {
		evLog := log.New(os.Stdout, "[weather] ", log.LstdFlags|log.Lmicroseconds)
		sink = append(sink, weather.EventSinkFunc(func(ev weather.Event) {
			evLog.Printf("region %v begin %s %s instant=%v", ev.Region, ev.Kind, ev.Code, ev.Instant)
		}))
	}

	rt := authority.NewRuntime(authority.RuntimeConfig{
		Tuning:   tune,
		Registry: cats,
		Store:    store,
		Sink:     sink,
		Logger:   log.New(os.Stdout, "[authority] ", log.LstdFlags|log.Lmicroseconds),
	})
	logger.Printf("seed=%d region_size=%d tick_ms=%d weather_digest=%s", tune.Seed, tune.RegionSize, tune.TickMs, cats.WeatherDigest)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              listen,
		Handler:           newMux(rt, db, transitions, *admin || deploy.EnableAdminHTTP, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}

	// The runtime persists every region on the way out; the store must stay
	// open until it returns.
	cancel()
	<-runDone
	if err := transitions.Close(); err != nil {
		logger.Printf("close transition log: %v", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Printf("close region store: %v", err)
		}
	}
	ctx3, cancel3 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel3()
	if err := otelShutdown(ctx3); err != nil {
		logger.Printf("otel shutdown: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
