// Package normalize turns raw upstream records into the uniform result shape
// returned by every search and data tool.
package normalize

import (
	"maps"
	"slices"
	"strings"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
)

// Record is one normalised result row.
type Record map[string]any

// Result is the envelope returned for searches and by-ID fetches.
type Result struct {
	Records []Record `json:"records"`
	Count   int      `json:"count"`
	Total   int      `json:"total"`

	// Truncated reports that the page bound stopped pagination.
	Truncated bool `json:"truncated"`

	// Omitted counts trailing records dropped to fit the response size limit.
	Omitted int `json:"omitted,omitempty"`
}

// Policy selects which fields survive normalisation.
type Policy int

const (
	// Full keeps every field.
	Full Policy = iota
	// Summary drops bulky fields such as geometry and metadata.
	Summary
	// Minimal keeps the identifying fields and the location only.
	Minimal
)

func (p Policy) String() string {
	switch p {
	case Summary:
		return "summary"
	case Minimal:
		return "minimal"
	default:
		return "full"
	}
}

// MinimalFields is the field set requested upstream for Minimal results.
var MinimalFields = []string{"id", "title", "lat", "lon", "dataset_id"}

// SummaryFields is the field set requested upstream for Summary results.
var SummaryFields = []string{"id", "title", "lat", "lon", "year", "dataset_id", "catalog_id"}

// codeFields carry the administrative codes that enrichment resolves to names.
var codeFields = []string{
	"prefecture_code", "municipality_code", "DPF:prefecture_code", "DPF:municipality_code",
}

// SummaryRequestFields is SummaryFields plus the code fields, so summary
// records can still be enriched when upstream honours the fields list.
var SummaryRequestFields = append(slices.Clone(SummaryFields), codeFields...)

var allow = map[Policy]map[string]bool{
	Summary: toSet(append(slices.Clone(SummaryRequestFields), "prefecture_name", "municipality_name")),
	Minimal: toSet(MinimalFields),
}

// Enricher resolves administrative codes to display names. Lookups must not
// block on the network.
type Enricher interface {
	PrefectureName(code string) (string, bool)
	MunicipalityName(code string) (string, bool)
}

// Normalizer flattens, enriches and filters records.
type Normalizer struct {
	enricher Enricher
}

// New creates a normalizer. e may be nil to disable enrichment.
func New(e Enricher) *Normalizer {
	return &Normalizer{enricher: e}
}

// Result normalises raw records under policy. Count and Total are both set to
// the number of records; callers overwrite Total when upstream reported one.
func (n *Normalizer) Result(raw []map[string]any, policy Policy) *Result {
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, n.Record(r, policy))
	}
	return &Result{Records: records, Count: len(records), Total: len(records)}
}

// Record normalises a single raw record.
func (n *Normalizer) Record(raw map[string]any, policy Policy) Record {
	rec := Flatten(raw)
	rec = Enrich(rec, n.enricher)
	return Select(rec, policy)
}

// Flatten hoists a feature's properties to the top level. The feature id is
// kept and geometry is passed through untouched. Non-feature records are
// copied as they are.
func Flatten(raw map[string]any) Record {
	props, isFeature := raw["properties"].(map[string]any)
	if !isFeature {
		return Record(maps.Clone(raw))
	}

	out := make(Record, len(props)+len(raw))
	for k, v := range props {
		out[k] = v
	}
	for k, v := range raw {
		switch k {
		case "properties", "type":
			continue
		case "id", "geometry":
			out[k] = v
		default:
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
	return out
}

type enrichment struct {
	codeKeys []string
	nameKey  string
	resolve  func(Enricher, string) (string, bool)
}

var enrichments = []enrichment{
	{
		codeKeys: []string{"prefecture_code", "DPF:prefecture_code"},
		nameKey:  "prefecture_name",
		resolve:  Enricher.PrefectureName,
	},
	{
		codeKeys: []string{"municipality_code", "DPF:municipality_code"},
		nameKey:  "municipality_name",
		resolve:  Enricher.MunicipalityName,
	},
}

// Enrich adds prefecture_name and municipality_name when rec carries a code
// the enricher knows. It returns rec unchanged on any miss and a modified
// copy otherwise.
func Enrich(rec Record, e Enricher) Record {
	if e == nil {
		return rec
	}
	var out Record
	for _, en := range enrichments {
		if _, has := rec[en.nameKey]; has {
			continue
		}
		code := firstCode(rec, en.codeKeys)
		if code == "" {
			continue
		}
		name, ok := en.resolve(e, code)
		if !ok {
			continue
		}
		if out == nil {
			out = Record(maps.Clone(rec))
		}
		out[en.nameKey] = name
	}
	if out == nil {
		return rec
	}
	return out
}

func firstCode(rec Record, keys []string) string {
	for _, k := range keys {
		if s, ok := upstream.ToString(rec[k]); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Select drops the fields policy does not allow.
func Select(rec Record, policy Policy) Record {
	keep, ok := allow[policy]
	if !ok {
		return rec
	}
	out := make(Record, len(keep))
	for k, v := range rec {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}

func toSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
