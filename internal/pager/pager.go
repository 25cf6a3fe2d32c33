// Package pager drives sequential multi-page retrieval from the upstream API.
package pager

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
)

// Page parameter names and bounds used by the upstream search API.
const (
	ParamPage = "page"
	ParamSize = "size"

	DefaultPageSize = 50
	MaxPageSize     = 500
	DefaultMaxPages = 20
)

// Config controls page size and the safety bound.
type Config struct {
	PageSize int `yaml:"page_size" env:"MLIT_PAGE_SIZE" validate:"gte=1,lte=500"`
	MaxPages int `yaml:"max_pages" env:"MLIT_MAX_PAGES" validate:"gte=1,lte=1000"`
}

// DefaultConfig returns 50 records per page and a 20 page bound.
func DefaultConfig() Config {
	return Config{PageSize: DefaultPageSize, MaxPages: DefaultMaxPages}
}

// Collected is the concatenation of every fetched page.
type Collected struct {
	Records    []map[string]any
	Total      int
	TotalKnown bool
	Pages      int

	// Truncated is set when MaxPages stopped the loop before upstream
	// signalled the end of the result set.
	Truncated bool
}

// Pager fetches pages one after another until the result set is exhausted.
type Pager struct {
	fetcher  upstream.Fetcher
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// New creates a pager. Out-of-range settings fall back to the defaults.
func New(f upstream.Fetcher, cfg Config) *Pager {
	p := &Pager{
		fetcher:  f,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   slog.Default(),
	}
	if p.pageSize <= 0 {
		p.pageSize = DefaultPageSize
	}
	if p.pageSize > MaxPageSize {
		p.pageSize = MaxPageSize
	}
	if p.maxPages <= 0 {
		p.maxPages = DefaultMaxPages
	}
	return p
}

// SetLogger replaces the pager's logger.
func (p *Pager) SetLogger(l *slog.Logger) {
	p.logger = l
}

// Collect requests path with base plus paging parameters until a page is
// empty, upstream reports no more pages, the reported total is reached, or
// the page bound is hit. Any error discards the pages gathered so far.
func (p *Pager) Collect(ctx context.Context, path string, base url.Values) (*Collected, error) {
	out := &Collected{Records: []map[string]any{}}

	for page := 1; ; page++ {
		if page > p.maxPages {
			out.Truncated = true
			p.logger.Warn("page bound reached, returning partial result set",
				"path", path,
				"pages", out.Pages,
				"records", len(out.Records),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := cloneValues(base)
		params.Set(ParamPage, strconv.Itoa(page))
		params.Set(ParamSize, strconv.Itoa(p.pageSize))

		doc, err := p.fetcher.Fetch(ctx, path, params)
		if err != nil {
			return nil, err
		}
		decoded, err := upstream.DecodePage(doc)
		if err != nil {
			return nil, err
		}
		out.Pages++

		if decoded.TotalKnown {
			out.Total, out.TotalKnown = decoded.Total, true
		}
		if len(decoded.Records) == 0 {
			break
		}
		out.Records = append(out.Records, decoded.Records...)

		if decoded.HasMore != nil && !*decoded.HasMore {
			break
		}
		if out.TotalKnown && len(out.Records) >= out.Total {
			break
		}
	}

	if !out.TotalKnown {
		out.Total = len(out.Records)
	}
	p.logger.Debug("pagination complete",
		"path", path,
		"pages", out.Pages,
		"records", len(out.Records),
		"truncated", out.Truncated,
	)
	return out, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
