// Package dispatch routes search intents and data lookups through the query
// builder, the pager and the normalizer.
package dispatch

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/codes"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/normalize"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/pager"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/query"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// Upstream endpoints used for single-object requests.
const (
	DataPath    = "data"
	CatalogPath = "catalog"
)

// By-ID request parameters.
const (
	ParamDataID    = "data_id"
	ParamDatasetID = "dataset_id"
)

// DataReference identifies one data record.
type DataReference struct {
	DataID    string
	DatasetID string
}

// SearchOptions are the optional knobs shared by all search tools.
type SearchOptions struct {
	SortAttribute string
	SortOrder     query.SortOrder

	// Minimal requests and returns only id, title, lat, lon and dataset_id.
	Minimal bool
}

// Dispatcher executes tool requests against the upstream API.
type Dispatcher struct {
	fetcher    upstream.Fetcher
	pager      *pager.Pager
	codes      *codes.Cache
	normalizer *normalize.Normalizer
	logger     *slog.Logger
}

// New wires a dispatcher. The cache serves the code tools and enriches
// results with prefecture and municipality names.
func New(f upstream.Fetcher, cache *codes.Cache, pc pager.Config) *Dispatcher {
	return &Dispatcher{
		fetcher:    f,
		pager:      pager.New(f, pc),
		codes:      cache,
		normalizer: normalize.New(cache),
		logger:     slog.Default(),
	}
}

// SetLogger replaces the dispatcher's logger.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	d.logger = l
	d.pager.SetLogger(l)
}

// Search runs intent to completion and returns the normalised result set.
// Invalid intents fail before any upstream request.
func (d *Dispatcher) Search(ctx context.Context, intent query.Intent, opts SearchOptions) (*normalize.Result, error) {
	qopts := query.Options{SortAttribute: opts.SortAttribute, SortOrder: opts.SortOrder}
	policy := normalize.Full
	if opts.Minimal {
		qopts.Fields = normalize.MinimalFields
		policy = normalize.Minimal
	}

	req, err := query.Build(intent, qopts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	collected, err := d.pager.Collect(ctx, req.Path, req.Params)
	if err != nil {
		return nil, err
	}

	res := d.normalizer.Result(collected.Records, policy)
	res.Total = collected.Total
	res.Truncated = collected.Truncated

	d.logger.Info("search complete",
		"mode", intent.Mode(),
		"records", res.Count,
		"total", res.Total,
		"pages", collected.Pages,
		"truncated", res.Truncated,
		"duration", time.Since(start),
	)
	return res, nil
}

// Data fetches one record with every field.
func (d *Dispatcher) Data(ctx context.Context, ref DataReference) (*normalize.Result, error) {
	return d.byID(ctx, ref, normalize.Full)
}

// DataSummary fetches the same record as Data but keeps only the summary
// fields, and asks upstream for that reduced field set.
func (d *Dispatcher) DataSummary(ctx context.Context, ref DataReference) (*normalize.Result, error) {
	return d.byID(ctx, ref, normalize.Summary)
}

func (d *Dispatcher) byID(ctx context.Context, ref DataReference, policy normalize.Policy) (*normalize.Result, error) {
	id := strings.TrimSpace(ref.DataID)
	if id == "" {
		return nil, apperr.Validation("data_id must not be empty")
	}

	params := url.Values{ParamDataID: {id}}
	if ds := strings.TrimSpace(ref.DatasetID); ds != "" {
		params.Set(ParamDatasetID, ds)
	}
	if policy == normalize.Summary {
		params.Set(query.ParamFields, strings.Join(normalize.SummaryRequestFields, ","))
	}

	doc, err := d.fetcher.Fetch(ctx, DataPath, params)
	if err != nil {
		return nil, err
	}
	page, err := upstream.DecodePage(doc)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, apperr.NotFound("data %q not found", id).WithOp(DataPath)
	}

	res := d.normalizer.Result(page.Records, policy)
	if page.TotalKnown {
		res.Total = page.Total
	}
	d.logger.Debug("data fetched", "data_id", id, "policy", policy, "records", res.Count)
	return res, nil
}

// Catalog lists the available datasets, optionally restricted to one
// category (case-insensitive).
func (d *Dispatcher) Catalog(ctx context.Context, category string) ([]normalize.CatalogEntry, error) {
	doc, err := d.fetcher.Fetch(ctx, CatalogPath, nil)
	if err != nil {
		return nil, err
	}
	page, err := upstream.DecodePage(doc)
	if err != nil {
		return nil, err
	}

	entries := normalize.Catalog(page.Records)
	category = strings.TrimSpace(category)
	if category == "" {
		return entries, nil
	}
	out := make([]normalize.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if strings.EqualFold(e.Category, category) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Prefectures returns the prefecture code table.
func (d *Dispatcher) Prefectures(ctx context.Context) ([]codes.Entry, error) {
	return d.codes.Prefectures(ctx)
}

// Municipalities returns the municipality code table, optionally for one
// prefecture.
func (d *Dispatcher) Municipalities(ctx context.Context, prefCode string) ([]codes.Entry, error) {
	if prefCode = strings.TrimSpace(prefCode); prefCode != "" {
		prefCode = codes.Canonical(prefCode, codes.PrefectureWidth)
		if err := query.ValidatePrefectureCode(prefCode); err != nil {
			return nil, err
		}
	}
	return d.codes.Municipalities(ctx, prefCode)
}
