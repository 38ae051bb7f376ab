package tagmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
)

// HeightEntry maps an inclusive tag id range to the camera calibration for
// markers mounted at one ceiling height: the floor-plane distance covered by
// one pixel, and the ceiling height above the floor.
type HeightEntry struct {
	FirstID          int
	LastID           int
	DistancePerPixel float64
	Z                float64
}

// HeightTable resolves per-tag calibration by id. Entries are kept sorted by
// FirstID; overlapping ranges are not rejected and the first match wins.
type HeightTable struct {
	entries []HeightEntry
}

// NewHeightTable returns an empty table. Lookups against an empty table
// return 0, which ingest treats as "unknown calibration".
func NewHeightTable() *HeightTable {
	return &HeightTable{}
}

// Load replaces the table contents and sorts entries by FirstID ascending.
func (ht *HeightTable) Load(entries []HeightEntry) {
	ht.entries = append(ht.entries[:0:0], entries...)
	sort.Slice(ht.entries, func(i, j int) bool {
		return ht.entries[i].FirstID < ht.entries[j].FirstID
	})
}

// Len returns the number of entries in the table.
func (ht *HeightTable) Len() int { return len(ht.entries) }

// Entries returns a copy of the sorted entry list.
func (ht *HeightTable) Entries() []HeightEntry {
	return append([]HeightEntry(nil), ht.entries...)
}

// DistancePerPixel returns the calibration of the first entry whose range
// contains id, or 0 when no entry matches. Callers must treat 0 as unknown.
func (ht *HeightTable) DistancePerPixel(id int) float64 {
	for _, e := range ht.entries {
		if id >= e.FirstID && id <= e.LastID {
			return e.DistancePerPixel
		}
	}
	return 0
}

// Z returns the ceiling height for id, or 0 when no entry matches.
func (ht *HeightTable) Z(id int) float64 {
	for _, e := range ht.entries {
		if id >= e.FirstID && id <= e.LastID {
			return e.Z
		}
	}
	return 0
}

// On-disk representation: <Map_Tag_Heights Count="K"> with one
// <Tag_Height .../> element per entry.

type xmlHeightTable struct {
	XMLName xml.Name       `xml:"Map_Tag_Heights"`
	Count   int            `xml:"Count,attr"`
	Entries []xmlTagHeight `xml:"Tag_Height"`
}

type xmlTagHeight struct {
	FirstID          int     `xml:"First_Id,attr"`
	LastID           int     `xml:"Last_Id,attr"`
	DistancePerPixel float64 `xml:"Distance_Per_Pixel,attr"`
	Z                float64 `xml:"Z,attr"`
}

// ReadXML loads the table from its XML form. On any error the table is left
// unchanged.
func (ht *HeightTable) ReadXML(r io.Reader) error {
	var doc xmlHeightTable
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("parse height table: %w", err)
	}
	if doc.Count != len(doc.Entries) {
		return fmt.Errorf("height table count mismatch: header says %d, found %d entries", doc.Count, len(doc.Entries))
	}
	entries := make([]HeightEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.DistancePerPixel <= 0 {
			return fmt.Errorf("height table entry [%d,%d]: distance per pixel %v must be positive", e.FirstID, e.LastID, e.DistancePerPixel)
		}
		entries = append(entries, HeightEntry{
			FirstID:          e.FirstID,
			LastID:           e.LastID,
			DistancePerPixel: e.DistancePerPixel,
			Z:                e.Z,
		})
	}
	ht.Load(entries)
	return nil
}

// WriteXML writes the table in its XML form.
func (ht *HeightTable) WriteXML(w io.Writer) error {
	doc := xmlHeightTable{Count: len(ht.entries)}
	for _, e := range ht.entries {
		doc.Entries = append(doc.Entries, xmlTagHeight{
			FirstID:          e.FirstID,
			LastID:           e.LastID,
			DistancePerPixel: e.DistancePerPixel,
			Z:                e.Z,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode height table: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// LoadHeightTableFile reads a height table XML file.
func LoadHeightTableFile(path string) (*HeightTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ht := NewHeightTable()
	if err := ht.ReadXML(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ht, nil
}
