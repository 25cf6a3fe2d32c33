// Package query maps search intents to upstream request parameters.
//
// Intents are a closed set of variants. Each variant carries only the fields
// its search mode needs, so a rectangle can never be attached to a plain
// keyword search.
package query

// Mode identifies a search variant.
type Mode string

const (
	ModeKeyword   Mode = "keyword"
	ModeRectangle Mode = "rectangle"
	ModePoint     Mode = "point"
	ModeAttribute Mode = "attribute"
)

// Intent is one of KeywordSearch, RectangleSearch, PointSearch or
// AttributeSearch.
type Intent interface {
	Mode() Mode
	Term() string
	sealed()
}

// KeywordSearch is a plain keyword search.
type KeywordSearch struct {
	Keyword string
}

// RectangleSearch restricts a keyword search to a bounding box.
type RectangleSearch struct {
	Keyword string
	South   float64
	West    float64
	North   float64
	East    float64

	// PrefectureCode optionally restricts results to one prefecture.
	PrefectureCode string
}

// PointSearch restricts a keyword search to a circle around a point.
type PointSearch struct {
	Keyword string
	Lat     float64
	Lon     float64
	RadiusM float64

	// PrefectureCode optionally restricts results to one prefecture.
	PrefectureCode string
}

// AttributeSearch filters a keyword search by attribute values.
type AttributeSearch struct {
	Keyword    string
	Attributes map[string]string
}

func (KeywordSearch) Mode() Mode   { return ModeKeyword }
func (RectangleSearch) Mode() Mode { return ModeRectangle }
func (PointSearch) Mode() Mode     { return ModePoint }
func (AttributeSearch) Mode() Mode { return ModeAttribute }

func (s KeywordSearch) Term() string   { return s.Keyword }
func (s RectangleSearch) Term() string { return s.Keyword }
func (s PointSearch) Term() string     { return s.Keyword }
func (s AttributeSearch) Term() string { return s.Keyword }

func (KeywordSearch) sealed()   {}
func (RectangleSearch) sealed() {}
func (PointSearch) sealed()     {}
func (AttributeSearch) sealed() {}

// SortOrder is the direction of an upstream sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Options are per-call search settings that apply to every mode.
type Options struct {
	SortAttribute string
	SortOrder     SortOrder

	// Fields, when set, asks upstream for a reduced field set.
	Fields []string
}
