// Package render draws a tag map to SVG using gonum/plot: marker positions
// as oriented glyphs, arcs as line segments (red when in the spanning tree,
// green otherwise), and an optional robot trajectory overlay.
package render

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/tagmap/internal/tagmap"
)

var (
	treeColor     = color.RGBA{R: 200, A: 255}
	crossColor    = color.RGBA{G: 160, A: 255}
	markerColor   = color.RGBA{B: 200, A: 255}
	trajBodyColor = color.RGBA{R: 120, G: 120, B: 120, A: 255}
)

// TrajectoryPose is one robot pose for the overlay polyline.
type TrajectoryPose struct {
	X, Y  float64
	Twist float64
}

// Options controls page layout.
type Options struct {
	Title string
	// Page edge length; both dimensions use it so the axis scale stays
	// square. Zero means 8 inches.
	PageInches float64
	// Trajectory, when non-empty, is drawn as a polyline over oriented
	// triangle glyphs.
	Trajectory []TrajectoryPose
}

// WriteMapSVG renders the map to an SVG file at basename + ".svg" and
// returns the written path. The axis range is computed from the bounding
// box over all marker positions (and the trajectory, if any).
func WriteMapSVG(m *tagmap.Map, basename string, opts Options) (string, error) {
	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("tag map: %d tags, %d arcs", m.TagCount(), m.ArcCount())
	}
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	tags := m.Tags()
	minX, minY, maxX, maxY := bounds(tags, opts.Trajectory)
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	pad := span * 0.05
	p.X.Min, p.X.Max = minX-pad, maxX+pad
	p.Y.Min, p.Y.Max = minY-pad, maxY+pad

	// Arcs under markers so the glyphs stay readable.
	for _, a := range m.Arcs() {
		seg, err := plotter.NewLine(plotter.XYs{
			{X: a.From.X, Y: a.From.Y},
			{X: a.To.X, Y: a.To.Y},
		})
		if err != nil {
			return "", fmt.Errorf("arc line (%d,%d): %w", a.From.ID, a.To.ID, err)
		}
		if a.InTree {
			seg.Color = treeColor
		} else {
			seg.Color = crossColor
		}
		p.Add(seg)
	}

	tick := span * 0.03
	for _, t := range tags {
		dot, err := plotter.NewScatter(plotter.XYs{{X: t.X, Y: t.Y}})
		if err != nil {
			return "", fmt.Errorf("tag %d glyph: %w", t.ID, err)
		}
		dot.GlyphStyle.Shape = draw.CircleGlyph{}
		dot.GlyphStyle.Color = markerColor
		dot.GlyphStyle.Radius = vg.Points(3)
		p.Add(dot)

		// Heading tick from the marker center along its twist.
		heading, err := plotter.NewLine(plotter.XYs{
			{X: t.X, Y: t.Y},
			{X: t.X + tick*math.Cos(t.Twist), Y: t.Y + tick*math.Sin(t.Twist)},
		})
		if err != nil {
			return "", fmt.Errorf("tag %d heading: %w", t.ID, err)
		}
		heading.Color = markerColor
		p.Add(heading)
	}

	if len(opts.Trajectory) > 0 {
		if err := addTrajectory(p, opts.Trajectory, tick); err != nil {
			return "", err
		}
	}

	size := vg.Length(opts.PageInches) * vg.Inch
	if size == 0 {
		size = 8 * vg.Inch
	}
	path := basename + ".svg"
	if err := p.Save(size, size, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

func addTrajectory(p *plot.Plot, traj []TrajectoryPose, tick float64) error {
	pts := make(plotter.XYs, len(traj))
	for i, pose := range traj {
		pts[i] = plotter.XY{X: pose.X, Y: pose.Y}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("trajectory polyline: %w", err)
	}
	line.Color = trajBodyColor
	line.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(line)

	// One oriented triangle per pose: apex along the heading.
	for _, pose := range traj {
		apex := plotter.XY{
			X: pose.X + tick*math.Cos(pose.Twist),
			Y: pose.Y + tick*math.Sin(pose.Twist),
		}
		left := plotter.XY{
			X: pose.X + tick*0.5*math.Cos(pose.Twist+2.5),
			Y: pose.Y + tick*0.5*math.Sin(pose.Twist+2.5),
		}
		right := plotter.XY{
			X: pose.X + tick*0.5*math.Cos(pose.Twist-2.5),
			Y: pose.Y + tick*0.5*math.Sin(pose.Twist-2.5),
		}
		tri, err := plotter.NewPolygon(plotter.XYs{apex, left, right})
		if err != nil {
			return fmt.Errorf("trajectory glyph: %w", err)
		}
		tri.Color = trajBodyColor
		p.Add(tri)
	}
	return nil
}

func bounds(tags []*tagmap.Tag, traj []TrajectoryPose) (minX, minY, maxX, maxY float64) {
	first := true
	grow := func(x, y float64) {
		if first {
			minX, maxX, minY, maxY = x, x, y, y
			first = false
			return
		}
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	for _, t := range tags {
		grow(t.X, t.Y)
	}
	for _, pose := range traj {
		grow(pose.X, pose.Y)
	}
	if first {
		return -1, -1, 1, 1
	}
	return minX, minY, maxX, maxY
}
