package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/codes"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/pager"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/query"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// stubUpstream answers by path and counts every request.
type stubUpstream struct {
	mu      sync.Mutex
	calls   int
	params  []url.Values
	respond func(path string, params url.Values) (any, error)
}

func (s *stubUpstream) Fetch(ctx context.Context, path string, params url.Values) (any, error) {
	s.mu.Lock()
	s.calls++
	s.params = append(s.params, params)
	s.mu.Unlock()
	return s.respond(path, params)
}

func (s *stubUpstream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func threeRoads(path string, params url.Values) (any, error) {
	if params.Get(pager.ParamPage) != "1" {
		return map[string]any{"results": []any{}}, nil
	}
	return map[string]any{"results": []any{
		map[string]any{"id": "r1", "title": "国道1号", "prefecture_code": "13"},
		map[string]any{"id": "r2", "title": "国道2号"},
		map[string]any{"id": "r3", "title": "国道3号"},
	}}, nil
}

func newSeededDispatcher(f upstream.Fetcher) *Dispatcher {
	cache := codes.NewSeeded(f,
		[]codes.Entry{{Code: "13", Name: "東京都"}, {Code: "27", Name: "大阪府"}},
		[]codes.Entry{
			{Code: "13101", Name: "千代田区", PrefectureCode: "13"},
			{Code: "27100", Name: "大阪市", PrefectureCode: "27"},
		},
	)
	return New(f, cache, pager.DefaultConfig())
}

func TestSearch_Keyword(t *testing.T) {
	stub := &stubUpstream{respond: threeRoads}
	d := newSeededDispatcher(stub)

	res, err := d.Search(context.Background(), query.KeywordSearch{Keyword: "道路"}, SearchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 || res.Count != 3 || res.Total != 3 {
		t.Fatalf("expected 3 records, got %+v", res)
	}
	if res.Truncated {
		t.Fatal("expected truncated=false")
	}
	if res.Records[0]["prefecture_name"] != "東京都" {
		t.Fatalf("expected enrichment from the seeded cache, got %v", res.Records[0])
	}
	if got := stub.params[0].Get(query.ParamKeyword); got != "道路" {
		t.Fatalf("expected keyword param, got %q", got)
	}
}

func TestSearch_MinimalRequestsReducedFields(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		return map[string]any{"has_more": false, "results": []any{
			map[string]any{"id": "1", "title": "t", "lat": 35.0, "lon": 139.0, "dataset_id": "ds", "geometry": map[string]any{}},
		}}, nil
	}}
	d := newSeededDispatcher(stub)

	res, err := d.Search(context.Background(), query.KeywordSearch{Keyword: "駅"}, SearchOptions{Minimal: true, SortAttribute: "year", SortOrder: query.SortDesc})
	if err != nil {
		t.Fatal(err)
	}
	if got := stub.params[0].Get(query.ParamFields); got != "id,title,lat,lon,dataset_id" {
		t.Fatalf("unexpected fields param %q", got)
	}
	if stub.params[0].Get(query.ParamSort) != "year" || stub.params[0].Get(query.ParamOrder) != "desc" {
		t.Fatalf("expected sort params, got %v", stub.params[0])
	}
	if _, ok := res.Records[0]["geometry"]; ok {
		t.Fatal("minimal result should not carry geometry")
	}
}

func TestSearch_InvalidIntentMakesNoNetworkCall(t *testing.T) {
	stub := &stubUpstream{respond: threeRoads}
	d := newSeededDispatcher(stub)

	intents := []query.Intent{
		query.PointSearch{Keyword: "駅", Lat: 35, Lon: 139, RadiusM: 0},
		query.PointSearch{Keyword: "駅", Lat: 35, Lon: 139, RadiusM: -5},
		query.RectangleSearch{Keyword: "橋", South: 35, West: 135, North: 34, East: 136},
		query.AttributeSearch{Keyword: "橋梁", Attributes: map[string]string{}},
		query.KeywordSearch{},
	}
	for _, in := range intents {
		if _, err := d.Search(context.Background(), in, SearchOptions{}); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%#v: expected validation error, got %v", in, err)
		}
	}
	if n := stub.count(); n != 0 {
		t.Fatalf("expected zero upstream calls, got %d", n)
	}
}

func TestSearch_Truncated(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		return []any{map[string]any{"id": params.Get(pager.ParamPage)}}, nil
	}}
	d := New(stub, codes.New(stub), pager.Config{PageSize: 1, MaxPages: 4})

	res, err := d.Search(context.Background(), query.KeywordSearch{Keyword: "川"}, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated || res.Count != 4 {
		t.Fatalf("expected 4 records truncated, got %+v", res)
	}
}

func TestData_NotFoundFromUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(ParamDataID) == "X123" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"totalNumber":1,"getDataResults":[{"id":"A1","title":"t","geometry":{"type":"Point"}}]}`))
	}))
	defer srv.Close()

	client, err := upstream.NewClient(upstream.Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	f := upstream.WithRetry(client, upstream.DefaultPolicy())
	d := New(f, codes.New(f), pager.DefaultConfig())

	_, err = d.Data(context.Background(), DataReference{DataID: "X123"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not_found error, got %v", err)
	}

	res, err := d.Data(context.Background(), DataReference{DataID: "A1", DatasetID: "ds"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Count != 1 || res.Records[0]["geometry"] == nil {
		t.Fatalf("expected full record, got %+v", res)
	}
}

func TestData_EmptyResultIsNotFound(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		return map[string]any{"totalNumber": 0, "getDataResults": []any{}}, nil
	}}
	_, err := newSeededDispatcher(stub).Data(context.Background(), DataReference{DataID: "missing"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not_found error, got %v", err)
	}
}

func TestData_RequiresID(t *testing.T) {
	stub := &stubUpstream{respond: threeRoads}
	_, err := newSeededDispatcher(stub).DataSummary(context.Background(), DataReference{DataID: "  "})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stub.count() != 0 {
		t.Fatal("expected no upstream call")
	}
}

func TestDataSummary_SameResourceFewerFields(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		if path != DataPath {
			t.Errorf("expected path %s, got %s", DataPath, path)
		}
		return map[string]any{"getDataResults": []any{
			map[string]any{"id": "A1", "title": "t", "year": 2020, "metadata": map[string]any{"big": true}},
		}}, nil
	}}
	d := newSeededDispatcher(stub)

	res, err := d.DataSummary(context.Background(), DataReference{DataID: "A1", DatasetID: "ds"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Records[0]["metadata"]; ok {
		t.Fatal("summary should drop metadata")
	}
	p := stub.params[0]
	if p.Get(ParamDataID) != "A1" || p.Get(ParamDatasetID) != "ds" || !strings.Contains(p.Get(query.ParamFields), "catalog_id") {
		t.Fatalf("unexpected params: %v", p)
	}
}

func TestDataSummary_RequestsCodesForEnrichment(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		return map[string]any{"getDataResults": []any{
			map[string]any{"id": "A1", "title": "t", "prefecture_code": "13", "municipality_code": "13101"},
		}}, nil
	}}
	d := newSeededDispatcher(stub)

	res, err := d.DataSummary(context.Background(), DataReference{DataID: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	fields := strings.Split(stub.params[0].Get(query.ParamFields), ",")
	for _, f := range []string{"prefecture_code", "municipality_code"} {
		if !slices.Contains(fields, f) {
			t.Fatalf("fields %v missing %s", fields, f)
		}
	}
	rec := res.Records[0]
	if rec["prefecture_name"] != "東京都" || rec["municipality_name"] != "千代田区" {
		t.Fatalf("expected enriched summary record, got %v", rec)
	}
}

func TestCatalog_FilterByCategory(t *testing.T) {
	stub := &stubUpstream{respond: func(path string, params url.Values) (any, error) {
		return map[string]any{"dataCatalog": []any{
			map[string]any{"id": "a", "title": "道路", "category": "Transport"},
			map[string]any{"id": "b", "title": "河川", "category": "water"},
		}}, nil
	}}
	d := newSeededDispatcher(stub)

	all, err := d.Catalog(context.Background(), "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 entries, got %v (%v)", all, err)
	}
	transport, err := d.Catalog(context.Background(), "transport")
	if err != nil || len(transport) != 1 || transport[0].ID != "a" {
		t.Fatalf("expected only the transport entry, got %v (%v)", transport, err)
	}
}

func TestMunicipalities(t *testing.T) {
	stub := &stubUpstream{respond: threeRoads}
	d := newSeededDispatcher(stub)

	got, err := d.Municipalities(context.Background(), "27")
	if err != nil || len(got) != 1 || got[0].Name != "大阪市" {
		t.Fatalf("expected 大阪市, got %v (%v)", got, err)
	}
	if _, err := d.Municipalities(context.Background(), "99"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stub.count() != 0 {
		t.Fatal("seeded tables must not be fetched")
	}
}
