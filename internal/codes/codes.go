// Package codes caches the prefecture and municipality code tables.
//
// The tables are static reference data: each is fetched at most once per
// process on first use and never invalidated. A failed fetch is not cached.
package codes

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// Upstream endpoints of the master code tables.
const (
	PrefecturesPath    = "prefectures"
	MunicipalitiesPath = "municipalities"
)

// Code widths. Codes shorter than these are left-padded with zeros.
const (
	PrefectureWidth   = 2
	MunicipalityWidth = 5
)

// Entry is one row of a code table.
type Entry struct {
	Code string `json:"code"`
	Name string `json:"name"`

	// PrefectureCode is set on municipality entries only.
	PrefectureCode string `json:"prefecture_code,omitempty"`
}

type table struct {
	path    string
	width   int
	entries []Entry
	index   map[string]string
}

// Cache holds both tables. The zero value is not usable; call New.
type Cache struct {
	fetcher upstream.Fetcher
	group   singleflight.Group
	logger  *slog.Logger

	mu             sync.RWMutex
	prefectures    *table
	municipalities *table
}

// New creates an empty cache that loads through f.
func New(f upstream.Fetcher) *Cache {
	return &Cache{fetcher: f, logger: slog.Default()}
}

// NewSeeded creates a cache that is already populated and never fetches the
// seeded tables. A nil slice leaves that table to be fetched lazily.
func NewSeeded(f upstream.Fetcher, prefectures, municipalities []Entry) *Cache {
	c := New(f)
	if prefectures != nil {
		c.prefectures = buildTable(PrefecturesPath, PrefectureWidth, prefectures)
	}
	if municipalities != nil {
		c.municipalities = buildTable(MunicipalitiesPath, MunicipalityWidth, municipalities)
	}
	return c
}

// SetLogger replaces the cache's logger.
func (c *Cache) SetLogger(l *slog.Logger) {
	c.logger = l
}

// Prefectures returns the prefecture table ordered by code.
func (c *Cache) Prefectures(ctx context.Context) ([]Entry, error) {
	t, err := c.load(ctx, PrefecturesPath)
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.entries), nil
}

// Municipalities returns the municipality table ordered by code, restricted to
// one prefecture when prefCode is not empty.
func (c *Cache) Municipalities(ctx context.Context, prefCode string) ([]Entry, error) {
	t, err := c.load(ctx, MunicipalitiesPath)
	if err != nil {
		return nil, err
	}
	prefCode = Canonical(prefCode, PrefectureWidth)
	if prefCode == "" {
		return slices.Clone(t.entries), nil
	}
	out := make([]Entry, 0)
	for _, e := range t.entries {
		if e.PrefectureCode == prefCode {
			out = append(out, e)
		}
	}
	return out, nil
}

// PrefectureName resolves a prefecture code from the cached table only.
func (c *Cache) PrefectureName(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.prefectures, code)
}

// MunicipalityName resolves a municipality code from the cached table only.
func (c *Cache) MunicipalityName(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.municipalities, code)
}

// Warm loads both tables concurrently.
func (c *Cache) Warm(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.load(gctx, PrefecturesPath)
		return err
	})
	g.Go(func() error {
		_, err := c.load(gctx, MunicipalitiesPath)
		return err
	})
	return g.Wait()
}

func (c *Cache) cached(path string) *table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if path == PrefecturesPath {
		return c.prefectures
	}
	return c.municipalities
}

// load returns the table, sharing one in-flight fetch between concurrent
// callers. The shared fetch does not inherit the caller's cancellation; a
// cancelled caller just stops waiting for it.
func (c *Cache) load(ctx context.Context, path string) (*table, error) {
	if t := c.cached(path); t != nil {
		return t, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		if t := c.cached(path); t != nil {
			return t, nil
		}
		return c.fetch(context.WithoutCancel(ctx), path)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*table), nil
	}
}

func (c *Cache) fetch(ctx context.Context, path string) (*table, error) {
	doc, err := c.fetcher.Fetch(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s table: %w", path, err)
	}
	page, err := upstream.DecodePage(doc)
	if err != nil {
		return nil, fmt.Errorf("load %s table: %w", path, err)
	}

	width := PrefectureWidth
	if path == MunicipalitiesPath {
		width = MunicipalityWidth
	}

	entries := make([]Entry, 0, len(page.Records))
	for _, rec := range page.Records {
		e, ok := parseEntry(rec, width)
		if !ok {
			c.logger.Warn("skipping malformed code entry", "table", path, "record", rec)
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, apperr.Protocol(fmt.Sprintf("%s table is empty", path), nil).WithOp("load " + path)
	}

	t := buildTable(path, width, entries)

	c.mu.Lock()
	if path == PrefecturesPath {
		c.prefectures = t
	} else {
		c.municipalities = t
	}
	c.mu.Unlock()

	c.logger.Info("code table loaded", "table", path, "entries", len(t.entries))
	return t, nil
}

func parseEntry(rec map[string]any, width int) (Entry, bool) {
	codeKeys, nameKeys := []string{"code", "prefecture_code"}, []string{"name", "prefecture_name"}
	if width == MunicipalityWidth {
		codeKeys, nameKeys = []string{"code", "municipality_code"}, []string{"name", "municipality_name"}
	}
	code := firstString(rec, codeKeys...)
	name := firstString(rec, nameKeys...)
	if code == "" || name == "" {
		return Entry{}, false
	}

	e := Entry{Code: Canonical(code, width), Name: name}
	if width == MunicipalityWidth {
		pref := firstString(rec, "prefecture_code", "pref_code")
		if pref == "" && len(e.Code) >= PrefectureWidth {
			pref = e.Code[:PrefectureWidth]
		}
		e.PrefectureCode = Canonical(pref, PrefectureWidth)
	}
	return e, true
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := upstream.ToString(rec[k]); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// buildTable pads, deduplicates (first entry wins) and sorts by code.
func buildTable(path string, width int, entries []Entry) *table {
	t := &table{path: path, width: width, index: make(map[string]string, len(entries))}
	for _, e := range entries {
		e.Code = Canonical(e.Code, width)
		if e.PrefectureCode != "" {
			e.PrefectureCode = Canonical(e.PrefectureCode, PrefectureWidth)
		}
		if _, dup := t.index[e.Code]; dup {
			continue
		}
		t.index[e.Code] = e.Name
		t.entries = append(t.entries, e)
	}
	slices.SortFunc(t.entries, func(a, b Entry) int {
		return strings.Compare(a.Code, b.Code)
	})
	return t
}

func lookup(t *table, code string) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.index[Canonical(code, t.width)]
	return name, ok
}

// Canonical trims code and left-pads an all-digit code to width.
func Canonical(code string, width int) string {
	code = strings.TrimSpace(code)
	if code == "" || len(code) >= width {
		return code
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return code
		}
	}
	return strings.Repeat("0", width-len(code)) + code
}
