package query

import (
	"math"
	"testing"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

func TestBuild_Keyword(t *testing.T) {
	req, err := Build(KeywordSearch{Keyword: "道路"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Path != SearchPath {
		t.Fatalf("expected path %q, got %q", SearchPath, req.Path)
	}
	if len(req.Params) != 1 || req.Params.Get(ParamKeyword) != "道路" {
		t.Fatalf("unexpected params: %v", req.Params)
	}
}

func TestBuild_RectangleOrdersWestSouthEastNorth(t *testing.T) {
	req, err := Build(RectangleSearch{Keyword: "橋", South: 34.0, West: 135.0, North: 35.0, East: 136.0}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := req.Params.Get(ParamBBox); got != "135.0,34.0,136.0,35.0" {
		t.Fatalf("expected bbox 135.0,34.0,136.0,35.0, got %s", got)
	}
	if got := req.Params.Get(ParamKeyword); got != "橋" {
		t.Fatalf("expected keyword 橋, got %s", got)
	}
	if len(req.Params) != 2 {
		t.Fatalf("expected only keyword and bbox, got %v", req.Params)
	}
}

func TestBuild_RectangleFractionalBounds(t *testing.T) {
	req, err := Build(RectangleSearch{Keyword: "港", South: 33.25, West: -10.5, North: 33.75, East: 12}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := req.Params.Get(ParamBBox); got != "-10.5,33.25,12.0,33.75" {
		t.Fatalf("unexpected bbox: %s", got)
	}
}

func TestBuild_RectangleInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   RectangleSearch
	}{
		{"south above north", RectangleSearch{Keyword: "a", South: 36, West: 135, North: 35, East: 136}},
		{"equal latitudes", RectangleSearch{Keyword: "a", South: 35, West: 135, North: 35, East: 136}},
		{"west above east", RectangleSearch{Keyword: "a", South: 34, West: 137, North: 35, East: 136}},
		{"latitude out of range", RectangleSearch{Keyword: "a", South: -91, West: 135, North: 35, East: 136}},
		{"longitude out of range", RectangleSearch{Keyword: "a", South: 34, West: 135, North: 35, East: 181}},
		{"bad prefecture", RectangleSearch{Keyword: "a", South: 34, West: 135, North: 35, East: 136, PrefectureCode: "48"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.in, Options{})
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuild_Point(t *testing.T) {
	req, err := Build(PointSearch{Keyword: "駅", Lat: 35.681, Lon: 139.767, RadiusM: 500, PrefectureCode: "13"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		ParamKeyword:        "駅",
		ParamLat:            "35.681",
		ParamLon:            "139.767",
		ParamRadius:         "500.0",
		ParamPrefectureCode: "13",
	}
	for k, v := range want {
		if got := req.Params.Get(k); got != v {
			t.Errorf("param %s: expected %q, got %q", k, v, got)
		}
	}
}

func TestBuild_PadsPrefectureCode(t *testing.T) {
	tests := []Intent{
		RectangleSearch{Keyword: "a", South: 41, West: 140, North: 42, East: 141, PrefectureCode: "1"},
		PointSearch{Keyword: "a", Lat: 43, Lon: 141, RadiusM: 100, PrefectureCode: " 1 "},
	}
	for _, intent := range tests {
		req, err := Build(intent, Options{})
		if err != nil {
			t.Fatalf("%T: unexpected error: %v", intent, err)
		}
		if got := req.Params.Get(ParamPrefectureCode); got != "01" {
			t.Fatalf("%T: expected padded code 01, got %q", intent, got)
		}
	}
	if _, err := Build(PointSearch{Keyword: "a", Lat: 43, Lon: 141, RadiusM: 100, PrefectureCode: "0"}, Options{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for 00, got %v", err)
	}
}

func TestBuild_PointRejectsNonPositiveRadius(t *testing.T) {
	for _, r := range []float64{0, -1, -0.001, math.NaN(), math.Inf(1)} {
		_, err := Build(PointSearch{Keyword: "駅", Lat: 35, Lon: 139, RadiusM: r}, Options{})
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("radius %v: expected validation error, got %v", r, err)
		}
	}
}

func TestBuild_PointRejectsBadCoordinates(t *testing.T) {
	for _, p := range []PointSearch{
		{Keyword: "駅", Lat: 90.1, Lon: 139, RadiusM: 10},
		{Keyword: "駅", Lat: 35, Lon: -180.5, RadiusM: 10},
	} {
		if _, err := Build(p, Options{}); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%+v: expected validation error, got %v", p, err)
		}
	}
}

func TestBuild_Attribute(t *testing.T) {
	req, err := Build(AttributeSearch{
		Keyword: "橋梁",
		Attributes: map[string]string{
			"DPF:prefecture_code": "27",
			"DPF:catalog_id":      "mlit_bridge",
		},
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := req.Params.Get("attr:DPF:prefecture_code"); got != "27" {
		t.Fatalf("expected prefecture filter, got %q", got)
	}
	if got := req.Params.Get("attr:DPF:catalog_id"); got != "mlit_bridge" {
		t.Fatalf("expected catalog filter, got %q", got)
	}
	if len(req.Params) != 3 {
		t.Fatalf("expected keyword plus two filters, got %v", req.Params)
	}
}

func TestBuild_AttributeEmptyFilter(t *testing.T) {
	for _, attrs := range []map[string]string{nil, {}, {" ": "x"}, {"DPF:address": ""}} {
		_, err := Build(AttributeSearch{Keyword: "橋梁", Attributes: attrs}, Options{})
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%v: expected validation error, got %v", attrs, err)
		}
	}
}

func TestBuild_EmptyKeyword(t *testing.T) {
	intents := []Intent{
		KeywordSearch{},
		KeywordSearch{Keyword: "   "},
		RectangleSearch{South: 34, West: 135, North: 35, East: 136},
		PointSearch{Lat: 35, Lon: 139, RadiusM: 10},
		AttributeSearch{Attributes: map[string]string{"a": "b"}},
		nil,
	}
	for _, in := range intents {
		if _, err := Build(in, Options{}); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%#v: expected validation error, got %v", in, err)
		}
	}
}

func TestBuild_Options(t *testing.T) {
	req, err := Build(KeywordSearch{Keyword: "道路"}, Options{
		SortAttribute: "year",
		SortOrder:     SortDesc,
		Fields:        []string{"id", "title"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Params.Get(ParamSort) != "year" || req.Params.Get(ParamOrder) != "desc" {
		t.Fatalf("unexpected sort params: %v", req.Params)
	}
	if req.Params.Get(ParamFields) != "id,title" {
		t.Fatalf("unexpected fields param: %q", req.Params.Get(ParamFields))
	}

	if _, err := Build(KeywordSearch{Keyword: "道路"}, Options{SortAttribute: "year", SortOrder: "sideways"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for bad order, got %v", err)
	}
	if _, err := Build(KeywordSearch{Keyword: "道路"}, Options{SortOrder: SortAsc}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for order without attribute, got %v", err)
	}
}

func TestValidatePrefectureCode(t *testing.T) {
	for _, ok := range []string{"01", "13", "47"} {
		if err := ValidatePrefectureCode(ok); err != nil {
			t.Errorf("%s: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1", "00", "48", "ab", "013"} {
		if err := ValidatePrefectureCode(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
