// map-render renders a persisted map XML file to SVG without running the
// service. Useful for inspecting checkpoints and snapshots offline.
package main

import (
	"flag"
	"log"
	"strings"

	"github.com/banshee-data/tagmap/internal/tagmap"
	"github.com/banshee-data/tagmap/internal/tagmap/render"
)

func main() {
	mapPath := flag.String("map", "map.xml", "Map XML file to render")
	heightsPath := flag.String("heights", "", "Optional height table XML (fills calibration for lazily resolved tags)")
	out := flag.String("out", "", "Output base name (default: map path without extension)")
	title := flag.String("title", "", "Plot title")
	pageInches := flag.Float64("page", 8, "Page edge length in inches")
	flag.Parse()

	heights := tagmap.NewHeightTable()
	if *heightsPath != "" {
		var err error
		heights, err = tagmap.LoadHeightTableFile(*heightsPath)
		if err != nil {
			log.Fatalf("failed to load height table: %v", err)
		}
	}

	m := tagmap.New(heights)
	if err := m.LoadFile(*mapPath); err != nil {
		log.Fatalf("failed to load map: %v", err)
	}
	m.Update()

	base := *out
	if base == "" {
		base = strings.TrimSuffix(*mapPath, ".xml")
	}
	path, err := render.WriteMapSVG(m, base, render.Options{
		Title:      *title,
		PageInches: *pageInches,
	})
	if err != nil {
		log.Fatalf("failed to render: %v", err)
	}
	log.Printf("wrote %s (%d tags, %d arcs)", path, m.TagCount(), m.ArcCount())
}
