// Package monitor exposes the HTTP interface for a running fusion engine:
// health and map state endpoints, detection-pair ingest, snapshot control,
// a go-echarts debug chart, and SVG download.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tagmap/internal/config"
	"github.com/banshee-data/tagmap/internal/db"
	"github.com/banshee-data/tagmap/internal/tagmap"
	"github.com/banshee-data/tagmap/internal/tagmap/render"
)

// WebServer serves the monitor endpoints for one fusion engine. The engine
// itself is single-threaded; every handler takes mu before touching it.
type WebServer struct {
	address string
	server  *http.Server

	mu     sync.Mutex
	engine *tagmap.Map
	store  *db.DB // may be nil: ingest log and snapshots disabled
	cfg    *config.TuningConfig
	runID  string
}

// NewWebServer wires a server for the engine. store may be nil.
func NewWebServer(address string, engine *tagmap.Map, store *db.DB, cfg *config.TuningConfig) *WebServer {
	ws := &WebServer{
		address: address,
		engine:  engine,
		store:   store,
		cfg:     cfg,
		runID:   uuid.NewString(),
	}
	mux := http.NewServeMux()
	ws.RegisterRoutes(mux)
	if store != nil {
		store.AttachAdminRoutes(mux)
	}
	ws.server = &http.Server{Addr: address, Handler: mux}
	return ws
}

// RegisterRoutes registers all monitor routes on the provided mux.
func (ws *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/map", ws.handleMap)
	mux.HandleFunc("/api/map/update", ws.handleUpdate)
	mux.HandleFunc("/api/map/stats", ws.handleStats)
	mux.HandleFunc("/api/map/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/ingest", ws.handleIngest)
	mux.HandleFunc("/debug/map/chart", ws.handleMapChart)
	mux.HandleFunc("/map.svg", ws.handleMapSVG)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("[monitor] listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[monitor] shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	tags, arcs, dirty := ws.engine.TagCount(), ws.engine.ArcCount(), ws.engine.Changed()
	ws.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"tags":   tags,
		"arcs":   arcs,
		"dirty":  dirty,
		"run_id": ws.runID,
	})
}

type mapTagJSON struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Twist    float64 `json:"twist"`
	Z        float64 `json:"z"`
	HopCount int     `json:"hop_count"`
}

type mapArcJSON struct {
	FromID    int     `json:"from_id"`
	ToID      int     `json:"to_id"`
	FromTwist float64 `json:"from_twist"`
	ToTwist   float64 `json:"to_twist"`
	Distance  float64 `json:"distance"`
	Goodness  float64 `json:"goodness"`
	InTree    bool    `json:"in_tree"`
}

type mapJSON struct {
	Tags []mapTagJSON `json:"tags"`
	Arcs []mapArcJSON `json:"arcs"`
}

func (ws *WebServer) snapshotJSON() mapJSON {
	var out mapJSON
	for _, t := range ws.engine.Tags() {
		out.Tags = append(out.Tags, mapTagJSON{
			ID: t.ID, X: t.X, Y: t.Y, Twist: t.Twist, Z: t.Z, HopCount: t.HopCount(),
		})
	}
	for _, a := range ws.engine.Arcs() {
		out.Arcs = append(out.Arcs, mapArcJSON{
			FromID: a.From.ID, ToID: a.To.ID,
			FromTwist: a.FromTwist, ToTwist: a.ToTwist,
			Distance: a.Distance, Goodness: a.Goodness, InTree: a.InTree,
		})
	}
	return out
}

// handleMap dumps tags and arcs as JSON, running propagation first so poses
// are current.
func (ws *WebServer) handleMap(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	ws.engine.Update()
	out := ws.snapshotJSON()
	ws.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (ws *WebServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	ws.mu.Lock()
	wasDirty := ws.engine.Changed()
	ws.engine.Update()
	ws.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"propagated": wasDirty})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	stats := ws.engine.GoodnessStats()
	tags, arcs := ws.engine.TagCount(), ws.engine.ArcCount()
	ws.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tags":     tags,
		"arcs":     arcs,
		"goodness": stats,
	})
}

// ingestRequest is one detection pair from a single frame.
type ingestRequest struct {
	From        ingestTag `json:"from"`
	To          ingestTag `json:"to"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
}

type ingestTag struct {
	ID         int     `json:"id"`
	PixelX     float64 `json:"pixel_x"`
	PixelY     float64 `json:"pixel_y"`
	PixelTwist float64 `json:"pixel_twist"`
}

// handleIngest accepts one detection pair, applying the configured
// degenerate-pair and goodness filters before it reaches the engine. With a
// store configured, every pair that reaches the engine is logged with its
// outcome; the logged fields are the arc's stored measurement after the
// offer, so a rejected pair logs the kept measurement, not its own values.
func (ws *WebServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ImageWidth <= 0 || req.ImageHeight <= 0 {
		ws.writeJSONError(w, http.StatusBadRequest, "image dimensions required")
		return
	}
	if req.From.ID == req.To.ID {
		ws.writeJSONError(w, http.StatusBadRequest, "detection pair needs two distinct tags")
		return
	}

	sep := math.Hypot(req.From.PixelX-req.To.PixelX, req.From.PixelY-req.To.PixelY)
	if sep < ws.cfg.GetMinPixelSeparation() {
		ws.writeJSONError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("pixel separation %.2f below minimum", sep))
		return
	}
	if max := ws.cfg.GetMaxGoodness(); max > 0 {
		centerX := float64(req.ImageWidth) / 2
		centerY := float64(req.ImageHeight) / 2
		rhoFrom := math.Hypot(req.From.PixelX-centerX, req.From.PixelY-centerY)
		rhoTo := math.Hypot(req.To.PixelX-centerX, req.To.PixelY-centerY)
		if math.Abs(rhoFrom-rhoTo) > max {
			ws.writeJSONError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("goodness %.2f above maximum", math.Abs(rhoFrom-rhoTo)))
			return
		}
	}

	camFrom := tagmap.CameraTag{ID: req.From.ID, PixelX: req.From.PixelX, PixelY: req.From.PixelY, PixelTwist: req.From.PixelTwist}
	camTo := tagmap.CameraTag{ID: req.To.ID, PixelX: req.To.PixelX, PixelY: req.To.PixelY, PixelTwist: req.To.PixelTwist}

	ws.mu.Lock()
	accepted := ws.engine.Ingest(camFrom, camTo, req.ImageWidth, req.ImageHeight)
	var rec *db.PairMeasurement
	if arc := ws.engine.Arc(req.From.ID, req.To.ID); arc != nil {
		rec = &db.PairMeasurement{
			RunID:     ws.runID,
			TakenUnix: time.Now().UnixNano(),
			FromTagID: arc.From.ID,
			ToTagID:   arc.To.ID,
			FromTwist: arc.FromTwist,
			Distance:  arc.Distance,
			ToTwist:   arc.ToTwist,
			Goodness:  arc.Goodness,
			Accepted:  accepted,
		}
	}
	ws.mu.Unlock()

	if ws.store != nil && rec != nil {
		if err := ws.store.RecordPairMeasurement(rec); err != nil {
			log.Printf("[monitor] failed to log measurement: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"accepted": accepted})
}

// MapChanged reports whether measurements arrived since the last Update.
func (ws *WebServer) MapChanged() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.engine.Changed()
}

// PersistSnapshot runs propagation and stores the map XML into the snapshot
// store, returning the snapshot id.
func (ws *WebServer) PersistSnapshot(reason string) (int64, error) {
	if ws.store == nil {
		return 0, fmt.Errorf("no snapshot store configured")
	}
	ws.mu.Lock()
	ws.engine.Update()
	var buf bytes.Buffer
	err := ws.engine.WriteXML(&buf)
	tags, arcs := ws.engine.TagCount(), ws.engine.ArcCount()
	ws.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("serialize map: %w", err)
	}

	return ws.store.InsertMapSnapshot(&db.MapSnapshot{
		TakenUnix: time.Now().UnixNano(),
		TagsCount: tags,
		ArcsCount: arcs,
		MapXML:    buf.Bytes(),
		Reason:    reason,
	})
}

// SaveMapFile runs propagation and writes the map XML checkpoint file.
func (ws *WebServer) SaveMapFile(path string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.engine.Update()
	return ws.engine.SaveFile(path)
}

// handleSnapshot persists the current map XML into the snapshot store.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	id, err := ws.PersistSnapshot("manual")
	if err != nil {
		if ws.store == nil {
			ws.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		} else {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"snapshot_id": id})
}

// handleMapSVG renders the current map and streams the SVG back.
func (ws *WebServer) handleMapSVG(w http.ResponseWriter, r *http.Request) {
	tmpDir, err := os.MkdirTemp("", "tagmap-svg")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.RemoveAll(tmpDir)

	ws.mu.Lock()
	ws.engine.Update()
	path, err := render.WriteMapSVG(ws.engine, filepath.Join(tmpDir, "map"), render.Options{})
	ws.mu.Unlock()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "render: "+err.Error())
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(data)
}
