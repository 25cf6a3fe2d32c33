// Package tools exposes the dispatcher as MCP tools.
package tools

import (
	"context"
	"log/slog"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/codes"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/dispatch"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/normalize"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/query"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

// Tool names.
const (
	NameSearch              = "search"
	NameSearchRectangle     = "search_by_location_rectangle"
	NameSearchPointDistance = "search_by_location_point_distance"
	NameSearchAttribute     = "search_by_attribute"
	NameGetData             = "get_data"
	NameGetDataSummary      = "get_data_summary"
	NameGetDataCatalog      = "get_data_catalog"
	NameGetPrefectures      = "get_prefecture_data"
	NameGetMunicipalities   = "get_municipality_data"
)

// Tool categories.
const (
	categorySearch = "search"
	categoryData   = "data"
	categoryCodes  = "codes"
)

// Service is the dispatcher surface the tools call.
type Service interface {
	Search(ctx context.Context, intent query.Intent, opts dispatch.SearchOptions) (*normalize.Result, error)
	Data(ctx context.Context, ref dispatch.DataReference) (*normalize.Result, error)
	DataSummary(ctx context.Context, ref dispatch.DataReference) (*normalize.Result, error)
	Catalog(ctx context.Context, category string) ([]normalize.CatalogEntry, error)
	Prefectures(ctx context.Context) ([]codes.Entry, error)
	Municipalities(ctx context.Context, prefCode string) ([]codes.Entry, error)
}

// Options configure the tool set.
type Options struct {
	// ResponseLimit caps the encoded size of a result in bytes. Zero means
	// DefaultResponseLimit; a negative value disables the cap.
	ResponseLimit int

	Logger *slog.Logger
}

type toolContext struct {
	svc    Service
	limit  int
	logger *slog.Logger
}

// All returns every tool backed by svc.
func All(svc Service, opts Options) []mcpserver.ToolHandler {
	tc := &toolContext{svc: svc, limit: opts.ResponseLimit, logger: opts.Logger}
	if tc.limit == 0 {
		tc.limit = DefaultResponseLimit
	}
	if tc.logger == nil {
		tc.logger = slog.Default()
	}

	return []mcpserver.ToolHandler{
		newKeywordSearchTool(tc),
		newRectangleSearchTool(tc),
		newPointSearchTool(tc),
		newAttributeSearchTool(tc),
		newDataTool(tc, false),
		newDataTool(tc, true),
		newCatalogTool(tc),
		newPrefectureTool(tc),
		newMunicipalityTool(tc),
	}
}

// Register adds every tool backed by svc to s.
func Register(s *mcpserver.Server, svc Service, opts Options) {
	s.RegisterTools(All(svc, opts)...)
}
