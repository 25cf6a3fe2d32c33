package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/codes"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// SearchPath is the upstream endpoint for every search mode.
const SearchPath = "search"

// Upstream parameter names.
const (
	ParamKeyword        = "keyword"
	ParamBBox           = "bbox"
	ParamLat            = "lat"
	ParamLon            = "lon"
	ParamRadius         = "radius_m"
	ParamPrefectureCode = "prefecture_code"
	ParamSort           = "sort"
	ParamOrder          = "order"
	ParamFields         = "fields"

	// AttrPrefix prefixes one parameter per attribute filter: attr:<name>=<value>.
	AttrPrefix = "attr:"
)

// Request is a built upstream call.
type Request struct {
	Path   string
	Params url.Values
}

// Build validates intent and maps it to upstream parameters. It performs no I/O.
func Build(intent Intent, opts Options) (Request, error) {
	if intent == nil {
		return Request{}, apperr.Validation("search intent is required")
	}
	keyword := strings.TrimSpace(intent.Term())
	if keyword == "" {
		return Request{}, apperr.Validation("keyword must not be empty")
	}

	params := url.Values{}
	params.Set(ParamKeyword, keyword)

	switch in := intent.(type) {
	case KeywordSearch:
	case RectangleSearch:
		if err := validateRectangle(in); err != nil {
			return Request{}, err
		}
		// Upstream expects west,south,east,north.
		params.Set(ParamBBox, strings.Join([]string{
			FormatCoord(in.West), FormatCoord(in.South), FormatCoord(in.East), FormatCoord(in.North),
		}, ","))
		if err := setPrefecture(params, in.PrefectureCode); err != nil {
			return Request{}, err
		}
	case PointSearch:
		if err := validatePoint(in); err != nil {
			return Request{}, err
		}
		params.Set(ParamLat, FormatCoord(in.Lat))
		params.Set(ParamLon, FormatCoord(in.Lon))
		params.Set(ParamRadius, FormatCoord(in.RadiusM))
		if err := setPrefecture(params, in.PrefectureCode); err != nil {
			return Request{}, err
		}
	case AttributeSearch:
		if len(in.Attributes) == 0 {
			return Request{}, apperr.Validation("attribute filter must contain at least one entry")
		}
		for name, value := range in.Attributes {
			name = strings.TrimSpace(name)
			if name == "" {
				return Request{}, apperr.Validation("attribute name must not be empty")
			}
			if strings.TrimSpace(value) == "" {
				return Request{}, apperr.Validation("attribute %q has an empty value", name)
			}
			params.Set(AttrPrefix+name, value)
		}
	default:
		return Request{}, apperr.Validation("unsupported search mode %q", intent.Mode())
	}

	if err := applyOptions(params, opts); err != nil {
		return Request{}, err
	}
	return Request{Path: SearchPath, Params: params}, nil
}

func applyOptions(params url.Values, opts Options) error {
	if attr := strings.TrimSpace(opts.SortAttribute); attr != "" {
		params.Set(ParamSort, attr)
	}
	switch opts.SortOrder {
	case "":
	case SortAsc, SortDesc:
		if params.Get(ParamSort) == "" {
			return apperr.Validation("sort order %q requires a sort attribute", opts.SortOrder)
		}
		params.Set(ParamOrder, string(opts.SortOrder))
	default:
		return apperr.Validation("sort order must be %q or %q, got %q", SortAsc, SortDesc, opts.SortOrder)
	}
	if len(opts.Fields) > 0 {
		params.Set(ParamFields, strings.Join(opts.Fields, ","))
	}
	return nil
}

func validateRectangle(r RectangleSearch) error {
	for _, c := range []struct {
		name string
		v    float64
		lat  bool
	}{
		{"south", r.South, true}, {"north", r.North, true},
		{"west", r.West, false}, {"east", r.East, false},
	} {
		if err := checkCoord(c.name, c.v, c.lat); err != nil {
			return err
		}
	}
	if r.South >= r.North {
		return apperr.Validation("south (%v) must be less than north (%v)", r.South, r.North)
	}
	if r.West >= r.East {
		return apperr.Validation("west (%v) must be less than east (%v)", r.West, r.East)
	}
	return nil
}

func validatePoint(p PointSearch) error {
	if err := checkCoord("lat", p.Lat, true); err != nil {
		return err
	}
	if err := checkCoord("lon", p.Lon, false); err != nil {
		return err
	}
	if math.IsNaN(p.RadiusM) || math.IsInf(p.RadiusM, 0) || p.RadiusM <= 0 {
		return apperr.Validation("radius_m must be a positive number of metres, got %v", p.RadiusM)
	}
	return nil
}

func checkCoord(name string, v float64, latitude bool) error {
	limit := 180.0
	if latitude {
		limit = 90.0
	}
	if math.IsNaN(v) || v < -limit || v > limit {
		return apperr.Validation("%s must be within [-%v, %v], got %v", name, limit, limit, v)
	}
	return nil
}

func setPrefecture(params url.Values, code string) error {
	if code == "" {
		return nil
	}
	code = codes.Canonical(code, codes.PrefectureWidth)
	if err := ValidatePrefectureCode(code); err != nil {
		return err
	}
	params.Set(ParamPrefectureCode, code)
	return nil
}

// ValidatePrefectureCode checks a two-digit JIS prefecture code (01-47).
func ValidatePrefectureCode(code string) error {
	n, err := strconv.Atoi(code)
	if len(code) != 2 || err != nil || n < 1 || n > 47 {
		return apperr.Validation("prefecture_code must be a two-digit code between 01 and 47, got %q", code)
	}
	return nil
}

// FormatCoord renders v with at least one decimal place, so 135 becomes "135.0".
func FormatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
