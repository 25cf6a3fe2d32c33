package normalize

import (
	"encoding/json"
	"reflect"
	"testing"
)

type fakeEnricher struct {
	prefs map[string]string
	munis map[string]string
}

func (f fakeEnricher) PrefectureName(code string) (string, bool) {
	n, ok := f.prefs[code]
	return n, ok
}

func (f fakeEnricher) MunicipalityName(code string) (string, bool) {
	n, ok := f.munis[code]
	return n, ok
}

var testEnricher = fakeEnricher{
	prefs: map[string]string{"13": "東京都"},
	munis: map[string]string{"13101": "千代田区"},
}

func TestFlatten_Feature(t *testing.T) {
	geometry := map[string]any{"type": "Point", "coordinates": []any{139.76, 35.68}}
	raw := map[string]any{
		"type":     "Feature",
		"id":       "F1",
		"geometry": geometry,
		"bbox":     []any{1, 2, 3, 4},
		"properties": map[string]any{
			"title": "千代田橋",
			"id":    "shadowed",
			"meta":  map[string]any{"source": "mlit"},
		},
	}

	got := Flatten(raw)
	if got["id"] != "F1" {
		t.Fatalf("expected feature id to win, got %v", got["id"])
	}
	if got["title"] != "千代田橋" {
		t.Fatalf("expected hoisted title, got %v", got["title"])
	}
	if !reflect.DeepEqual(got["geometry"], geometry) {
		t.Fatalf("expected geometry passed through, got %v", got["geometry"])
	}
	if _, ok := got["properties"]; ok {
		t.Fatal("properties should be flattened away")
	}
	if _, ok := got["type"]; ok {
		t.Fatal("feature type should be dropped")
	}
	if _, ok := got["meta"].(map[string]any); !ok {
		t.Fatal("nested mappings should be kept")
	}
	if got["bbox"] == nil {
		t.Fatal("extra top-level members should be kept")
	}
}

func TestFlatten_TabularIsCopied(t *testing.T) {
	raw := map[string]any{"id": "T1", "year": json.Number("2021")}
	got := Flatten(raw)
	got["id"] = "changed"
	if raw["id"] != "T1" {
		t.Fatal("Flatten must not alias the raw record")
	}
}

func TestEnrich(t *testing.T) {
	rec := Record{"id": "a", "DPF:prefecture_code": "13", "municipality_code": json.Number("13101")}
	got := Enrich(rec, testEnricher)
	if got["prefecture_name"] != "東京都" || got["municipality_name"] != "千代田区" {
		t.Fatalf("expected names to be added, got %v", got)
	}
	if _, ok := rec["prefecture_name"]; ok {
		t.Fatal("Enrich must not modify its input")
	}
}

func TestEnrich_MissLeavesRecordUnchanged(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		e    Enricher
	}{
		{"unknown code", Record{"prefecture_code": "99"}, testEnricher},
		{"no code", Record{"id": "x"}, testEnricher},
		{"nil enricher", Record{"prefecture_code": "13"}, nil},
		{"empty cache", Record{"prefecture_code": "13"}, fakeEnricher{}},
		{"name already present", Record{"prefecture_code": "13", "prefecture_name": "upstream"}, testEnricher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(tt.rec)
			got := Enrich(tt.rec, tt.e)
			if len(got) != before {
				t.Fatalf("expected record unchanged, got %v", got)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	rec := Record{
		"id": "a", "title": "t", "lat": 35.0, "lon": 139.0, "year": 2020,
		"dataset_id": "ds", "catalog_id": "cat", "geometry": map[string]any{},
		"prefecture_code": "13", "prefecture_name": "東京都", "metadata": "bulky",
	}

	if got := Select(rec, Full); len(got) != len(rec) {
		t.Fatalf("Full should keep every field, got %v", got)
	}

	summary := Select(rec, Summary)
	for _, k := range []string{"id", "title", "lat", "lon", "year", "dataset_id", "catalog_id", "prefecture_code", "prefecture_name"} {
		if _, ok := summary[k]; !ok {
			t.Errorf("summary missing %s", k)
		}
	}
	for _, k := range []string{"geometry", "metadata"} {
		if _, ok := summary[k]; ok {
			t.Errorf("summary should drop %s", k)
		}
	}

	minimal := Select(rec, Minimal)
	if len(minimal) != len(MinimalFields) {
		t.Fatalf("expected %d minimal fields, got %v", len(MinimalFields), minimal)
	}
}

func TestNormalizer_Result(t *testing.T) {
	n := New(testEnricher)
	raw := []map[string]any{
		{"type": "Feature", "id": "1", "properties": map[string]any{"title": "a", "prefecture_code": "13"}},
		{"id": "2", "title": "b"},
		{"id": "3", "title": "c"},
	}
	res := n.Result(raw, Full)
	if res.Count != 3 || res.Total != 3 || len(res.Records) != 3 || res.Truncated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Records[0]["prefecture_name"] != "東京都" {
		t.Fatalf("expected first record enriched, got %v", res.Records[0])
	}
	if res.Records[2]["id"] != "3" {
		t.Fatal("record order must be preserved")
	}
}

func TestNormalizer_EmptyResultEncodesEmptyList(t *testing.T) {
	res := New(nil).Result(nil, Full)
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"records":[],"count":0,"total":0,"truncated":false}` {
		t.Fatalf("unexpected JSON: %s", b)
	}
}

func TestCatalog(t *testing.T) {
	raw := []map[string]any{
		{
			"id":          "mlit_bridge",
			"title":       "橋梁点検データ",
			"description": "<p>全国の<b>橋梁</b>点検結果</p>",
			"theme":       "infrastructure",
			"attributes": []any{
				map[string]any{"name": "DPF:year"},
				map[string]any{"attributeName": "DPF:prefecture_code"},
				map[string]any{"name": "DPF:year"},
			},
		},
		{"title": "no id, skipped"},
		{"id": "plain", "title": "x", "attribute_names": []any{"b", "a", ""}},
	}

	got := Catalog(raw)
	want := []CatalogEntry{
		{
			ID:          "mlit_bridge",
			Title:       "橋梁点検データ",
			Description: "全国の橋梁点検結果",
			Category:    "infrastructure",
			Attributes:  []string{"DPF:prefecture_code", "DPF:year"},
		},
		{ID: "plain", Title: "x", Attributes: []string{"a", "b"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
