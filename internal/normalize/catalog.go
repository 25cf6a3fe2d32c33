package normalize

import (
	"slices"
	"strings"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/htmltext"
)

// CatalogEntry describes one dataset available on the platform.
type CatalogEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Attributes  []string `json:"attributes"`
}

// Catalog maps raw catalog records to entries. Records without an id are
// skipped. Descriptions are reduced to plain text.
func Catalog(raw []map[string]any) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(raw))
	for _, r := range raw {
		rec := Flatten(r)
		id := stringField(rec, "id", "dataset_id", "catalog_id")
		if id == "" {
			continue
		}
		out = append(out, CatalogEntry{
			ID:          id,
			Title:       stringField(rec, "title", "name"),
			Description: htmltext.Text(stringField(rec, "description", "summary")),
			Category:    stringField(rec, "category", "theme"),
			Attributes:  attributeNames(rec),
		})
	}
	return out
}

func stringField(rec Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := upstream.ToString(rec[k]); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// attributeNames accepts a list of names or a list of attribute objects
// ({"name": ...} or {"attributeName": ...}) and returns sorted unique names.
func attributeNames(rec Record) []string {
	names := []string{}
	for _, key := range []string{"attributes", "attribute_names", "attributeNames"} {
		items, ok := rec[key].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			switch v := item.(type) {
			case string:
				names = append(names, strings.TrimSpace(v))
			case map[string]any:
				names = append(names, stringField(Record(v), "name", "attributeName", "attribute_name"))
			}
		}
		break
	}
	names = slices.DeleteFunc(names, func(s string) bool { return s == "" })
	slices.Sort(names)
	return slices.Compact(names)
}
