package domain

import "time"

// Dataset is a registered gridded dataset.
type Dataset struct {
	ID          string      // Unique identifier (derived from filename when not set)
	Name        string      // Display name
	Units       string      // Units of the values, e.g. "mm/day"
	Description string      // Optional description
	Path        string      // Local file path
	Size        int64       // File size in bytes
	License     License     // License information
	Grid        *RasterGrid // Values, immutable once loaded
	LoadedAt    time.Time   // Load timestamp
}

// IsReady returns true if the dataset carries a drawable grid.
func (d *Dataset) IsReady() bool {
	return d.Grid != nil && !d.Grid.IsDegenerate()
}

// Extent returns the geographic extent covered by the grid.
func (d *Dataset) Extent() Extent {
	if d.Grid == nil || d.Grid.Rows() == 0 || d.Grid.Cols() == 0 {
		return Extent{}
	}
	lat, lon := d.Grid.Lat, d.Grid.Lon
	e := Extent{
		West:  lon[0],
		East:  lon[len(lon)-1],
		South: lat[0],
		North: lat[len(lat)-1],
	}
	if e.West > e.East {
		e.West, e.East = e.East, e.West
	}
	if e.South > e.North {
		e.South, e.North = e.North, e.South
	}
	return e
}

// DatasetStatus represents the lifecycle status of a dataset.
type DatasetStatus string

// Dataset statuses.
const (
	StatusLoading   DatasetStatus = "loading"
	StatusReady     DatasetStatus = "ready"
	StatusError     DatasetStatus = "error"
	StatusUnloading DatasetStatus = "unloading"
)

// License contains license information for a dataset.
type License struct {
	Name        string `json:"name,omitempty"`        // License name (e.g., "CC BY 4.0")
	URL         string `json:"url,omitempty"`         // Link to the license text
	Attribution string `json:"attribution,omitempty"` // Attribution text to display
}

// IsEmpty returns true if no license information is set.
func (l *License) IsEmpty() bool {
	return l.Name == "" && l.URL == "" && l.Attribution == ""
}

// String returns the attribution text or license name.
func (l *License) String() string {
	if l.Attribution != "" {
		return l.Attribution
	}
	return l.Name
}
