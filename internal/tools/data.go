package tools

import (
	"context"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/dispatch"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/normalize"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

// DataTool fetches one record by id, in full or as a summary.
type DataTool struct {
	mcpserver.BaseTool
	tc      *toolContext
	summary bool
}

func newDataTool(tc *toolContext, summary bool) *DataTool {
	name, description := NameGetData, "Fetch one data record with every field."
	if summary {
		name = NameGetDataSummary
		description = "Fetch one data record without bulky fields such as geometry. Cheaper than get_data."
	}
	return &DataTool{
		BaseTool: mcpserver.BaseTool{
			ToolName:        name,
			ToolDescription: description,
			ToolSchema: objectSchema(map[string]any{
				argDataID:    stringProp("Data identifier from a search result"),
				argDatasetID: stringProp("Dataset the record belongs to"),
			}, argDataID),
			Category: categoryData,
		},
		tc:      tc,
		summary: summary,
	}
}

func (t *DataTool) Execute(ctx context.Context, args map[string]any) (*mcpserver.ToolCallResult, error) {
	id, err := stringArg(args, argDataID, true)
	if err != nil {
		return nil, err
	}
	dataset, err := stringArg(args, argDatasetID, false)
	if err != nil {
		return nil, err
	}

	ref := dispatch.DataReference{DataID: id, DatasetID: dataset}
	var res *normalize.Result
	if t.summary {
		res, err = t.tc.svc.DataSummary(ctx, ref)
	} else {
		res, err = t.tc.svc.Data(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return t.tc.resultPayload(res)
}

// CatalogTool lists the available datasets.
type CatalogTool struct {
	mcpserver.BaseTool
	tc *toolContext
}

func newCatalogTool(tc *toolContext) *CatalogTool {
	return &CatalogTool{
		BaseTool: mcpserver.BaseTool{
			ToolName:        NameGetDataCatalog,
			ToolDescription: "List datasets with their id, title, description, category and attribute names.",
			ToolSchema: objectSchema(map[string]any{
				argCategory: stringProp("Only list datasets in this category (case-insensitive)"),
			}),
			Category: categoryData,
		},
		tc: tc,
	}
}

func (t *CatalogTool) Execute(ctx context.Context, args map[string]any) (*mcpserver.ToolCallResult, error) {
	category, err := stringArg(args, argCategory, false)
	if err != nil {
		return nil, err
	}
	entries, err := t.tc.svc.Catalog(ctx, category)
	if err != nil {
		return nil, err
	}
	return listPayload(t.tc, "datasets", entries)
}

// PrefectureTool lists prefecture codes.
type PrefectureTool struct {
	mcpserver.BaseTool
	tc *toolContext
}

func newPrefectureTool(tc *toolContext) *PrefectureTool {
	return &PrefectureTool{
		BaseTool: mcpserver.BaseTool{
			ToolName:        NameGetPrefectures,
			ToolDescription: "List prefecture codes and names.",
			ToolSchema:      objectSchema(map[string]any{}),
			Category:        categoryCodes,
		},
		tc: tc,
	}
}

func (t *PrefectureTool) Execute(ctx context.Context, args map[string]any) (*mcpserver.ToolCallResult, error) {
	entries, err := t.tc.svc.Prefectures(ctx)
	if err != nil {
		return nil, err
	}
	return listPayload(t.tc, "prefectures", entries)
}

// MunicipalityTool lists municipality codes, optionally for one prefecture.
type MunicipalityTool struct {
	mcpserver.BaseTool
	tc *toolContext
}

func newMunicipalityTool(tc *toolContext) *MunicipalityTool {
	return &MunicipalityTool{
		BaseTool: mcpserver.BaseTool{
			ToolName:        NameGetMunicipalities,
			ToolDescription: "List municipality codes and names, optionally for one prefecture.",
			ToolSchema: objectSchema(map[string]any{
				argPrefectureCode: stringProp("Two-digit prefecture code, e.g. 13"),
			}),
			Category: categoryCodes,
		},
		tc: tc,
	}
}

func (t *MunicipalityTool) Execute(ctx context.Context, args map[string]any) (*mcpserver.ToolCallResult, error) {
	pref, err := stringArg(args, argPrefectureCode, false)
	if err != nil {
		return nil, err
	}
	entries, err := t.tc.svc.Municipalities(ctx, pref)
	if err != nil {
		return nil, err
	}
	return listPayload(t.tc, "municipalities", entries)
}
