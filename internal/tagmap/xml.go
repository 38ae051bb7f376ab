package tagmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/tagmap/internal/units"
)

// On-disk map format:
//
//	<Map Tags_Count="N" Arcs_Count="M">
//	  <Tag Id="i" X="x" Y="y" Twist="deg" Distance_Per_Pixel="v" Z="h"/>
//	  <Arc From_Tag_Id="i" From_Twist="deg" Distance="d"
//	       To_Tag_Id="j" To_Twist="deg" Goodness="g" In_Tree="0|1"/>
//	</Map>
//
// Twists are degrees on disk and radians in memory. Arcs must already be in
// canonical order (From_Tag_Id < To_Tag_Id); the loader rejects files that
// are not, rather than re-canonicalizing and disturbing the stored twists.

type xmlMap struct {
	XMLName   xml.Name `xml:"Map"`
	TagsCount int      `xml:"Tags_Count,attr"`
	ArcsCount int      `xml:"Arcs_Count,attr"`
	Tags      []xmlTag `xml:"Tag"`
	Arcs      []xmlArc `xml:"Arc"`
}

type xmlTag struct {
	ID               int     `xml:"Id,attr"`
	X                float64 `xml:"X,attr"`
	Y                float64 `xml:"Y,attr"`
	TwistDeg         float64 `xml:"Twist,attr"`
	DistancePerPixel float64 `xml:"Distance_Per_Pixel,attr"`
	Z                float64 `xml:"Z,attr"`
}

type xmlArc struct {
	FromTagID    int     `xml:"From_Tag_Id,attr"`
	FromTwistDeg float64 `xml:"From_Twist,attr"`
	Distance     float64 `xml:"Distance,attr"`
	ToTagID      int     `xml:"To_Tag_Id,attr"`
	ToTwistDeg   float64 `xml:"To_Twist,attr"`
	Goodness     float64 `xml:"Goodness,attr"`
	InTree       int     `xml:"In_Tree,attr"`
}

// ReadXML loads a persisted map, replacing the current tags and arcs. On any
// structural error the map is left in its pre-load state: the file is staged
// into fresh tables and swapped in only once it validates.
func (m *Map) ReadXML(r io.Reader) error {
	var doc xmlMap
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("parse map: %w", err)
	}
	if doc.TagsCount != len(doc.Tags) {
		return fmt.Errorf("map tag count mismatch: header says %d, found %d", doc.TagsCount, len(doc.Tags))
	}
	if doc.ArcsCount != len(doc.Arcs) {
		return fmt.Errorf("map arc count mismatch: header says %d, found %d", doc.ArcsCount, len(doc.Arcs))
	}

	staged := New(m.heights)
	for _, xt := range doc.Tags {
		if _, ok := staged.tags[xt.ID]; ok {
			return fmt.Errorf("map tag %d appears twice", xt.ID)
		}
		t := staged.lookupOrCreateTag(xt.ID)
		t.X = xt.X
		t.Y = xt.Y
		t.Twist = units.NormalizeAngle(units.DegToRad(xt.TwistDeg))
		if xt.DistancePerPixel > 0 {
			t.DistancePerPixel = xt.DistancePerPixel
		}
		if xt.Z != 0 {
			t.Z = xt.Z
		}
	}
	for _, xa := range doc.Arcs {
		if xa.FromTagID >= xa.ToTagID {
			return fmt.Errorf("map arc (%d,%d) not in canonical order", xa.FromTagID, xa.ToTagID)
		}
		if staged.Arc(xa.FromTagID, xa.ToTagID) != nil {
			return fmt.Errorf("map arc (%d,%d) appears twice", xa.FromTagID, xa.ToTagID)
		}
		// Tag ids are resolved lazily: an arc may name a tag the file never
		// lists, which then joins the map with table calibration only.
		from := staged.lookupOrCreateTag(xa.FromTagID)
		to := staged.lookupOrCreateTag(xa.ToTagID)
		arc := staged.lookupOrCreateArc(from, to)
		arc.update(
			units.NormalizeAngle(units.DegToRad(xa.FromTwistDeg)),
			xa.Distance,
			units.NormalizeAngle(units.DegToRad(xa.ToTwistDeg)),
			xa.Goodness,
		)
		arc.InTree = xa.InTree != 0
	}

	m.tags = staged.tags
	m.arcs = staged.arcs
	m.arcIndex = staged.arcIndex
	m.changed = true
	return nil
}

// WriteXML persists the map. Tags are written sorted by id and arcs sorted
// by id pair so saves are deterministic.
func (m *Map) WriteXML(w io.Writer) error {
	doc := xmlMap{
		TagsCount: len(m.tags),
		ArcsCount: len(m.arcs),
	}
	for _, t := range m.Tags() {
		doc.Tags = append(doc.Tags, xmlTag{
			ID:               t.ID,
			X:                t.X,
			Y:                t.Y,
			TwistDeg:         units.RadToDeg(t.Twist),
			DistancePerPixel: t.DistancePerPixel,
			Z:                t.Z,
		})
	}
	for _, a := range m.Arcs() {
		inTree := 0
		if a.InTree {
			inTree = 1
		}
		doc.Arcs = append(doc.Arcs, xmlArc{
			FromTagID:    a.From.ID,
			FromTwistDeg: units.RadToDeg(a.FromTwist),
			Distance:     a.Distance,
			ToTagID:      a.To.ID,
			ToTwistDeg:   units.RadToDeg(a.ToTwist),
			Goodness:     a.Goodness,
			InTree:       inTree,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode map: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// LoadFile reads a persisted map file into the map.
func (m *Map) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.ReadXML(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// SaveFile writes the map to path atomically (write then rename).
func (m *Map) SaveFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := m.WriteXML(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
