package tools

import (
	"context"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/dispatch"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/query"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

// SearchTool runs one search mode to completion over every result page.
type SearchTool struct {
	mcpserver.BaseTool
	tc     *toolContext
	intent func(args map[string]any) (query.Intent, error)
}

func newSearchTool(tc *toolContext, name, description string, props map[string]any, required []string,
	intent func(map[string]any) (query.Intent, error)) *SearchTool {
	props[argKeyword] = stringProp("Search keyword, e.g. 橋 or 道路")
	props[argSortAttribute] = stringProp("Attribute to sort by, e.g. DPF:year")
	props[argSortOrder] = enumProp("Sort direction; requires sort_attribute_name", string(query.SortAsc), string(query.SortDesc))
	props[argMinimal] = boolProp("Return only id, title, lat, lon and dataset_id")

	return &SearchTool{
		BaseTool: mcpserver.BaseTool{
			ToolName:        name,
			ToolDescription: description,
			ToolSchema:      objectSchema(props, append([]string{argKeyword}, required...)...),
			Category:        categorySearch,
		},
		tc:     tc,
		intent: intent,
	}
}

func newKeywordSearchTool(tc *toolContext) *SearchTool {
	return newSearchTool(tc, NameSearch,
		"Keyword search across all datasets. Every result page is fetched and merged.",
		map[string]any{}, nil,
		func(args map[string]any) (query.Intent, error) {
			kw, err := stringArg(args, argKeyword, true)
			if err != nil {
				return nil, err
			}
			return query.KeywordSearch{Keyword: kw}, nil
		})
}

func newRectangleSearchTool(tc *toolContext) *SearchTool {
	return newSearchTool(tc, NameSearchRectangle,
		"Keyword search restricted to a bounding box in WGS84 degrees.",
		map[string]any{
			"south":           numberProp("Southern latitude"),
			"west":            numberProp("Western longitude"),
			"north":           numberProp("Northern latitude"),
			"east":            numberProp("Eastern longitude"),
			argPrefectureCode: stringProp("Two-digit prefecture code, e.g. 13"),
		},
		[]string{"south", "west", "north", "east"},
		func(args map[string]any) (query.Intent, error) {
			kw, err := stringArg(args, argKeyword, true)
			if err != nil {
				return nil, err
			}
			var bounds [4]float64
			for i, name := range []string{"south", "west", "north", "east"} {
				if bounds[i], err = floatArg(args, name); err != nil {
					return nil, err
				}
			}
			pref, err := stringArg(args, argPrefectureCode, false)
			if err != nil {
				return nil, err
			}
			return query.RectangleSearch{
				Keyword:        kw,
				South:          bounds[0],
				West:           bounds[1],
				North:          bounds[2],
				East:           bounds[3],
				PrefectureCode: pref,
			}, nil
		})
}

func newPointSearchTool(tc *toolContext) *SearchTool {
	return newSearchTool(tc, NameSearchPointDistance,
		"Keyword search within radius_m metres of a point in WGS84 degrees.",
		map[string]any{
			"lat":             numberProp("Latitude of the centre"),
			"lon":             numberProp("Longitude of the centre"),
			"radius_m":        numberProp("Radius in metres, greater than zero"),
			argPrefectureCode: stringProp("Two-digit prefecture code, e.g. 13"),
		},
		[]string{"lat", "lon", "radius_m"},
		func(args map[string]any) (query.Intent, error) {
			kw, err := stringArg(args, argKeyword, true)
			if err != nil {
				return nil, err
			}
			lat, err := floatArg(args, "lat")
			if err != nil {
				return nil, err
			}
			lon, err := floatArg(args, "lon")
			if err != nil {
				return nil, err
			}
			radius, err := floatArg(args, "radius_m")
			if err != nil {
				return nil, err
			}
			pref, err := stringArg(args, argPrefectureCode, false)
			if err != nil {
				return nil, err
			}
			return query.PointSearch{Keyword: kw, Lat: lat, Lon: lon, RadiusM: radius, PrefectureCode: pref}, nil
		})
}

func newAttributeSearchTool(tc *toolContext) *SearchTool {
	return newSearchTool(tc, NameSearchAttribute,
		"Keyword search filtered by exact attribute values, e.g. {\"DPF:prefecture_code\": \"13\"}.",
		map[string]any{
			argAttributes: map[string]any{
				"type":                 "object",
				"description":          "Attribute name to required value; at least one entry",
				"additionalProperties": map[string]any{"type": "string"},
				"minProperties":        1,
			},
		},
		[]string{argAttributes},
		func(args map[string]any) (query.Intent, error) {
			kw, err := stringArg(args, argKeyword, true)
			if err != nil {
				return nil, err
			}
			attrs, err := stringMapArg(args, argAttributes)
			if err != nil {
				return nil, err
			}
			return query.AttributeSearch{Keyword: kw, Attributes: attrs}, nil
		})
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (*mcpserver.ToolCallResult, error) {
	intent, err := t.intent(args)
	if err != nil {
		return nil, err
	}
	opts, err := searchOptions(args)
	if err != nil {
		return nil, err
	}

	res, err := t.tc.svc.Search(ctx, intent, opts)
	if err != nil {
		return nil, err
	}
	return t.tc.resultPayload(res)
}

func searchOptions(args map[string]any) (dispatch.SearchOptions, error) {
	var opts dispatch.SearchOptions
	var err error
	if opts.SortAttribute, err = stringArg(args, argSortAttribute, false); err != nil {
		return opts, err
	}
	if opts.SortOrder, err = sortOrderArg(args); err != nil {
		return opts, err
	}
	if opts.Minimal, err = boolArg(args, argMinimal); err != nil {
		return opts, err
	}
	return opts, nil
}
