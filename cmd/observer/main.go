package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/observer"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
	"voxelweather.ai/internal/transport/ws"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "observer", "observer name")
		configDir = flag.String("configs", "./configs", "config directory (must match the server's catalogs)")
		x         = flag.Float64("x", 0, "start x")
		y         = flag.Float64("y", 120, "start y")
		z         = flag.Float64("z", 0, "start z")
		speed     = flag.Float64("speed", 0, "walk speed along +x in units/s")
		report    = flag.Duration("report", 2*time.Second, "frame report interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pos := [3]float64{*x, *y, *z}
	c, err := ws.Dial(ctx, *url, protocol.HelloMsg{
		ObserverName: *name,
		Pos:          pos,
		Capabilities: protocol.HelloCapabilities{MaxQueue: tune.ObserverQueue},
	})
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer c.Close()

	w := c.Welcome
	logger.Printf("WELCOME observer_id=%s seed=%d region_size=%d tick_ms=%d", w.ObserverID, w.WorldParams.Seed, w.WorldParams.RegionSize, w.WorldParams.TickMS)
	if w.Catalogs.WeatherDigest != cats.WeatherDigest || w.Catalogs.WindDigest != cats.WindDigest {
		logger.Fatalf("catalog mismatch: server weather=%s wind=%s local weather=%s wind=%s",
			w.Catalogs.WeatherDigest, w.Catalogs.WindDigest, cats.WeatherDigest, cats.WindDigest)
	}

	client := observer.NewClient(observer.Config{
		Registry:     cats,
		Seed:         w.WorldParams.Seed,
		RegionSize:   w.WorldParams.RegionSize,
		SeaLevel:     tune.SeaLevel,
		FogFullLight: tune.FogFullLight,
		Sink: weather.EventSinkFunc(func(ev weather.Event) {
			logger.Printf("region %v begin %s instant=%v", ev.Region, ev.Code, ev.Instant)
		}),
		Logger: logger,
	})

	readErr := make(chan error, 1)
	go func() { readErr <- c.Run(ctx, client.Enqueue) }()

	tick := time.NewTicker(time.Duration(tune.ObserverTickMs) * time.Millisecond)
	defer tick.Stop()
	reportT := time.NewTicker(*report)
	defer reportT.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("connection closed: %v", err)
			}
			return
		case now := <-tick.C:
			dt := now.Sub(last).Seconds()
			last = now
			client.OnObserverTick(dt)
			pos[0] += *speed * dt
		case <-reportT.C:
			if err := c.SendPos(pos); err != nil {
				logger.Printf("send POS: %v", err)
			}
			client.Prune(pos[0], pos[2], tune.PruneRadius)
			f := client.Frame(pos[0], pos[1], pos[2], report.Seconds(), nil)
			st := client.Stats()
			logger.Printf("pos=(%.0f,%.0f) rain=%.2f wind=%.2f fog=%.2f clouds=%.2f regions=%d applied=%d rejected=%d",
				pos[0], pos[2], f.Rainfall, f.WindSpeed, f.FogMultiplier, f.Outputs.CloudOpacity, st.Regions, st.Applied, st.Rejected)
		}
	}
}
