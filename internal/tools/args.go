package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/query"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// Argument names shared by several tools.
const (
	argKeyword        = "keyword"
	argSortAttribute  = "sort_attribute_name"
	argSortOrder      = "sort_order"
	argMinimal        = "minimal"
	argPrefectureCode = "prefecture_code"
	argDataID         = "data_id"
	argDatasetID      = "dataset_id"
	argCategory       = "category"
	argAttributes     = "attributes"
)

// stringArg returns args[name] as a string. Absent or null arguments yield
// "" unless required.
func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", apperr.Validation("%s is required", name)
		}
		return "", nil
	}
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		if s == "" && required {
			return "", apperr.Validation("%s must not be empty", name)
		}
		return s, nil
	case json.Number:
		return s.String(), nil
	case float64:
		// Codes such as 13 arrive as numbers from some hosts.
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return "", apperr.Validation("%s must be a string, got %T", name, v)
	}
}

// floatArg returns a required numeric argument. Numeric strings are accepted.
func floatArg(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, apperr.Validation("%s is required", name)
	}

	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, apperr.Validation("%s must be a number, got %T", name, v)
	}
	if err != nil {
		return 0, apperr.Validation("%s must be a number: %v", name, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperr.Validation("%s must be a finite number", name)
	}
	return f, nil
}

// boolArg returns an optional boolean argument, false when absent.
func boolArg(args map[string]any, name string) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, apperr.Validation("%s must be a boolean, got %q", name, b)
		}
		return parsed, nil
	default:
		return false, apperr.Validation("%s must be a boolean, got %T", name, v)
	}
}

// stringMapArg returns a required object argument whose values are
// stringified. Nested objects and arrays are rejected.
func stringMapArg(args map[string]any, name string) (map[string]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, apperr.Validation("%s is required", name)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, apperr.Validation("%s must be an object, got %T", name, v)
	}

	out := make(map[string]string, len(raw))
	for k, val := range raw {
		switch x := val.(type) {
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(x)
		default:
			return nil, apperr.Validation("%s.%s must be a scalar, got %T", name, k, val)
		}
	}
	return out, nil
}

// sortOrderArg normalises sort_order to lower case. Build validates the value.
func sortOrderArg(args map[string]any) (query.SortOrder, error) {
	s, err := stringArg(args, argSortOrder, false)
	if err != nil {
		return "", err
	}
	return query.SortOrder(strings.ToLower(s)), nil
}
