package tools

import (
	"sort"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/normalize"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

// DefaultResponseLimit is the largest tool result, in bytes, before trailing
// records are dropped.
const DefaultResponseLimit = 1 << 20

// fit encodes build(items[:n], len(items)-n) for the largest n whose encoding
// fits in limit bytes. A limit <= 0 disables the cap. If even an empty list
// does not fit, the empty encoding is returned.
func fit[T any](items []T, limit int, build func(kept []T, omitted int) any) ([]byte, int, error) {
	encode := func(n int) ([]byte, error) {
		return mcpserver.MarshalCompact(build(items[:n], len(items)-n))
	}

	full, err := encode(len(items))
	if err != nil || limit <= 0 || len(full) <= limit {
		return full, 0, err
	}

	// Largest n in [0, len) that fits; encode(len) is already known too big.
	var encErr error
	n := sort.Search(len(items), func(i int) bool {
		b, err := encode(i + 1)
		if err != nil {
			encErr = err
			return true
		}
		return len(b) > limit
	})
	if encErr != nil {
		return nil, 0, encErr
	}
	out, err := encode(n)
	return out, len(items) - n, err
}

// resultPayload applies the size cap to a normalised result.
func (tc *toolContext) resultPayload(res *normalize.Result) (*mcpserver.ToolCallResult, error) {
	body, omitted, err := fit(res.Records, tc.limit, func(kept []normalize.Record, omitted int) any {
		if kept == nil {
			kept = []normalize.Record{}
		}
		return &normalize.Result{
			Records:   kept,
			Count:     len(kept),
			Total:     res.Total,
			Truncated: res.Truncated,
			Omitted:   omitted,
		}
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode result", err)
	}
	if omitted > 0 {
		tc.logger.Warn("response size limit reached", "limit", tc.limit, "omitted", omitted, "kept", len(res.Records)-omitted)
	}
	return mcpserver.TextResult(string(body)), nil
}

// listPayload applies the size cap to a list returned under key.
func listPayload[T any](tc *toolContext, key string, items []T) (*mcpserver.ToolCallResult, error) {
	body, omitted, err := fit(items, tc.limit, func(kept []T, omitted int) any {
		if kept == nil {
			kept = []T{}
		}
		payload := map[string]any{key: kept, "count": len(kept)}
		if omitted > 0 {
			payload["omitted"] = omitted
		}
		return payload
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode result", err)
	}
	if omitted > 0 {
		tc.logger.Warn("response size limit reached", "limit", tc.limit, "omitted", omitted, "key", key)
	}
	return mcpserver.TextResult(string(body)), nil
}
