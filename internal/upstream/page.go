package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// Page is one decoded upstream page.
type Page struct {
	Records []map[string]any

	// Total is the upstream's overall match count when TotalKnown.
	Total      int
	TotalKnown bool

	// HasMore is the upstream's explicit continuation flag, nil when absent.
	HasMore *bool
}

// collectionKeys are the places upstream payloads keep their records, in
// lookup order. The last two are the platform's GraphQL result names.
var collectionKeys = []string{"features", "results", "items", "data", "searchResults", "getDataResults"}

var totalKeys = []string{"total", "totalNumber", "total_count", "totalCount"}

var hasMoreKeys = []string{"has_more", "hasMore"}

// maxEnvelopeDepth limits how far DecodePage unwraps single-key envelopes
// such as {"data":{"search":{...}}}.
const maxEnvelopeDepth = 4

// DecodePage extracts records and continuation hints from a decoded document.
// It accepts feature collections, tabular pages, bare arrays, a single
// feature or record, and single-key envelopes around any of those.
func DecodePage(doc any) (Page, error) {
	return decodePage(doc, 0)
}

func decodePage(doc any, depth int) (Page, error) {
	switch v := doc.(type) {
	case []any:
		records, err := toRecords(v)
		return Page{Records: records}, err
	case map[string]any:
		return decodeObject(v, depth)
	case nil:
		return Page{}, apperr.Protocol("empty response body", nil)
	default:
		return Page{}, apperr.Protocol(fmt.Sprintf("unexpected response type %T", doc), nil)
	}
}

func decodeObject(obj map[string]any, depth int) (Page, error) {
	if errs, ok := obj["errors"].([]any); ok && len(errs) > 0 {
		return Page{}, apperr.Protocol("upstream reported an error", fmt.Errorf("%s", upstreamErrorMessage(obj)))
	}

	var page Page
	for _, k := range totalKeys {
		if n, ok := ToInt(obj[k]); ok {
			page.Total, page.TotalKnown = n, true
			break
		}
	}
	for _, k := range hasMoreKeys {
		if b, ok := obj[k].(bool); ok {
			page.HasMore = &b
			break
		}
	}

	if isRecord(obj) && !wrapsRecords(obj, page.TotalKnown || page.HasMore != nil) {
		page.Records = []map[string]any{obj}
		return page, nil
	}

	for _, key := range collectionKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch coll := raw.(type) {
		case nil:
			return page, nil
		case []any:
			records, err := toRecords(coll)
			page.Records = records
			return page, err
		case map[string]any:
			if depth < maxEnvelopeDepth {
				inner, err := decodeObject(coll, depth+1)
				if err != nil {
					return Page{}, err
				}
				return mergeHints(inner, page), nil
			}
		}
	}

	if isRecord(obj) {
		page.Records = []map[string]any{obj}
		return page, nil
	}

	if len(obj) == 1 && depth < maxEnvelopeDepth {
		for _, v := range obj {
			if inner, ok := v.(map[string]any); ok {
				return decodeObject(inner, depth+1)
			}
			if arr, ok := v.([]any); ok {
				records, err := toRecords(arr)
				return Page{Records: records}, err
			}
		}
	}

	if msg := upstreamErrorMessage(obj); msg != "" {
		return Page{}, apperr.Protocol("upstream reported an error", fmt.Errorf("%s", msg))
	}
	return Page{}, apperr.Protocol("response has no recognisable record collection", nil)
}

// mergeHints fills hints missing from inner with those found on the envelope.
func mergeHints(inner, outer Page) Page {
	if !inner.TotalKnown && outer.TotalKnown {
		inner.Total, inner.TotalKnown = outer.Total, true
	}
	if inner.HasMore == nil {
		inner.HasMore = outer.HasMore
	}
	return inner
}

// wrapsRecords reports whether a record-shaped object is really an envelope:
// its first collection field is a non-empty array of objects that either
// look like records themselves or sit next to paging hints. Features and
// objects with properties are always records.
func wrapsRecords(obj map[string]any, hinted bool) bool {
	if t, _ := obj["type"].(string); t == "Feature" {
		return false
	}
	if _, ok := obj["properties"]; ok {
		return false
	}
	for _, key := range collectionKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		arr, ok := raw.([]any)
		if !ok || len(arr) == 0 {
			return false
		}
		allRecords := true
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				return false
			}
			allRecords = allRecords && isRecord(m)
		}
		return hinted || allRecords
	}
	return false
}

func isRecord(obj map[string]any) bool {
	if t, _ := obj["type"].(string); t == "Feature" {
		return true
	}
	_, hasID := obj["id"]
	_, hasProps := obj["properties"]
	return hasID || hasProps
}

func toRecords(items []any) ([]map[string]any, error) {
	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.Protocol(fmt.Sprintf("record %d is %T, not an object", i, item), nil)
		}
		records = append(records, rec)
	}
	return records, nil
}

func upstreamErrorMessage(obj map[string]any) string {
	switch e := obj["errors"].(type) {
	case []any:
		var msgs []string
		for _, item := range e {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["message"].(string); ok {
					msgs = append(msgs, s)
				}
			}
		}
		return strings.Join(msgs, "; ")
	}
	if s, ok := obj["error"].(string); ok {
		return s
	}
	if s, ok := obj["message"].(string); ok {
		return s
	}
	return ""
}

// ToInt converts a decoded JSON number (json.Number, float64, int or numeric
// string) to int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

// ToString renders a decoded scalar (string, json.Number, float64, int or
// bool) as a string.
func ToString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}
