package domain

import "errors"

// DayFormat is the canonical ISO layout for calendar days throughout the pipeline.
const DayFormat = "2006-01-02"

// ErrNotReady reports that upstream has not finished publishing a day's
// replication archives yet. Callers retry on a later scheduler run.
var ErrNotReady = errors.New("replication data not yet published")

// ElementKind distinguishes the three OSM element types.
type ElementKind string

const (
	ElementNode     ElementKind = "node"
	ElementWay      ElementKind = "way"
	ElementRelation ElementKind = "relation"
)

// Operation is the diff section an element appeared in.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Tag is one key/value pair attached to an element, in document order.
type Tag struct {
	Key   string
	Value string
}

// Edit is one element touched by a replication diff. Immutable after
// extraction. Lat/Lon are present only for node elements.
type Edit struct {
	Element   ElementKind
	Operation Operation
	ID        int64
	Version   int
	UID       int64
	User      string
	Changeset int64
	Lat       *float64
	Lon       *float64
	Tags      []Tag
}

// roadCategories lists the tag keys that make an edit road-relevant, in
// precedence order, with the prefix applied to the derived category.
var roadCategories = []struct {
	key    string
	prefix string
}{
	{key: "highway"},
	{key: "restriction", prefix: "restriction:"},
	{key: "junction", prefix: "junction:"},
}

// RoadType derives the road category of the edit from its tags. The second
// return is false when the edit carries no road-relevant tag.
func (e Edit) RoadType() (string, bool) {
	for _, cat := range roadCategories {
		for _, t := range e.Tags {
			if t.Key == cat.key {
				return cat.prefix + t.Value, true
			}
		}
	}
	return "", false
}

// HasLocation reports whether the edit carries its own coordinates.
func (e Edit) HasLocation() bool {
	return e.Lat != nil && e.Lon != nil
}

// ChangesetBounds is the bounding-box summary of one changeset, used to
// impute locations for way and relation edits.
type ChangesetBounds struct {
	ID     int64
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
	User   string
}

// Center returns the midpoint of the bounding box.
func (b ChangesetBounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// EnrichedEdit is an Edit with a resolved point location and assigned
// country/state labels. Lat and Lon shadow the edit's optional coordinates
// and are always set.
type EnrichedEdit struct {
	Edit
	Lat     float64
	Lon     float64
	Country string
	State   string
}

// IndexRange is an inclusive range of archive file indices.
type IndexRange struct {
	First int
	Last  int
}

// Indices enumerates the range.
func (r IndexRange) Indices() []int {
	if r.Last < r.First {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for i := r.First; i <= r.Last; i++ {
		out = append(out, i)
	}
	return out
}

// FetchJob pairs a remote archive URL with its local destination.
type FetchJob struct {
	URL  string
	Path string
}

// CrawlStatus is the persisted crawl watermark.
type CrawlStatus struct {
	FirstDay string `json:"first_day"`
	LastDay  string `json:"last_day"`
}
