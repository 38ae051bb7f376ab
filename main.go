// Command tagmap runs the ceiling fiducial map fusion service: it loads the
// height table and any existing map checkpoint, serves the monitor HTTP
// interface for ingest and inspection, and periodically snapshots a dirty
// map to SQLite and back to the checkpoint file.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tagmap/internal/config"
	"github.com/banshee-data/tagmap/internal/db"
	"github.com/banshee-data/tagmap/internal/tagmap"
	"github.com/banshee-data/tagmap/internal/tagmap/monitor"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address for the monitor HTTP server")
	dbPath      = flag.String("db", "tagmap.db", "SQLite database for the measurement log and snapshots")
	mapPath     = flag.String("map", "map.xml", "Map XML checkpoint file (loaded if present, saved on snapshot and exit)")
	heightsPath = flag.String("heights", "heights.xml", "Height table XML file")
	configPath  = flag.String("config", "", "Optional tuning config JSON")
	announceLog = flag.Bool("announce-log", false, "Log every pose announcement")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	heights, err := tagmap.LoadHeightTableFile(*heightsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[tagmap] height table %s missing: measurements will have unknown calibration until one is provided", *heightsPath)
			heights = tagmap.NewHeightTable()
		} else {
			log.Fatalf("failed to load height table: %v", err)
		}
	}

	engine := tagmap.New(heights)
	engine.MarkerSize = cfg.GetMarkerSize()
	if *announceLog {
		engine.SetAnnounceFunc(func(a tagmap.TagAnnouncement) {
			log.Printf("[announce] tag=%d x=%.3f y=%.3f z=%.3f twist=%.4f", a.ID, a.X, a.Y, a.Z, a.Twist)
		})
	}

	if _, err := os.Stat(*mapPath); err == nil {
		if err := engine.LoadFile(*mapPath); err != nil {
			log.Fatalf("failed to load map: %v", err)
		}
		log.Printf("[tagmap] loaded %s: %d tags, %d arcs", *mapPath, engine.TagCount(), engine.ArcCount())
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ws := monitor.NewWebServer(*listen, engine, store, cfg)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("monitor server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSnapshotFlusher(ctx, ws, cfg.GetSnapshotInterval(), *mapPath)
	}()

	wg.Wait()

	// Final checkpoint so a clean shutdown never loses measurements.
	if err := ws.SaveMapFile(*mapPath); err != nil {
		log.Printf("failed to save final map checkpoint: %v", err)
	} else {
		log.Printf("[tagmap] saved %s", *mapPath)
	}
}

// runSnapshotFlusher persists a dirty map on every tick: one snapshot row in
// the store and a rewrite of the XML checkpoint file.
func runSnapshotFlusher(ctx context.Context, ws *monitor.WebServer, interval time.Duration, mapPath string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !ws.MapChanged() {
				continue
			}
			if id, err := ws.PersistSnapshot("periodic"); err != nil {
				log.Printf("[flusher] snapshot failed: %v", err)
			} else {
				log.Printf("[flusher] snapshot %d stored", id)
			}
			if err := ws.SaveMapFile(mapPath); err != nil {
				log.Printf("[flusher] checkpoint write failed: %v", err)
			}
		}
	}
}
