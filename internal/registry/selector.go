package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Selector pulls the meaningful payload out of a decoded response body.
type Selector interface {
	Select(ctx context.Context, body map[string]any) (any, error)
	String() string
}

// Whole returns the response body unchanged.
func Whole() Selector { return wholeSelector{} }

type wholeSelector struct{}

func (wholeSelector) Select(_ context.Context, body map[string]any) (any, error) {
	if body == nil {
		return map[string]any{}, nil
	}
	return body, nil
}

func (wholeSelector) String() string { return "$" }

// Field evaluates a JSONPath expression against the body. An absent field
// selects null.
func Field(path string) Selector { return mustPath(path, false) }

// List is like Field but an absent field selects an empty array.
func List(path string) Selector { return mustPath(path, true) }

type pathSelector struct {
	path  string
	eval  func(context.Context, any) (any, error)
	array bool
}

func mustPath(path string, array bool) *pathSelector {
	eval, err := jsonpath.New(path)
	if err != nil {
		panic(fmt.Sprintf("registry: bad selector %q: %v", path, err))
	}
	return &pathSelector{path: path, eval: eval, array: array}
}

func (s *pathSelector) Select(ctx context.Context, body map[string]any) (any, error) {
	v, err := s.eval(ctx, body)
	if err != nil || v == nil {
		// jsonpath reports a missing key as an error.
		if s.array {
			return []any{}, nil
		}
		return nil, nil
	}
	return v, nil
}

func (s *pathSelector) String() string {
	if s.array {
		return s.path + " | []"
	}
	return s.path
}

// Member is one broker row of a trading-member breakdown.
type Member struct {
	Member string `json:"member"`
	Volume string `json:"volume"`
}

// TradingMembers is the reshaped ka10002 result.
type TradingMembers struct {
	Sell []Member `json:"sell"`
	Buy  []Member `json:"buy"`
}

const memberRanks = 5

// Members reshapes the flat sel_trde_ori_nm_N / buy_trde_ori_nm_N fields
// into ranked sell and buy lists. Ranks with an empty member name are skipped.
func Members() Selector { return memberSelector{} }

type memberSelector struct{}

func (memberSelector) Select(_ context.Context, body map[string]any) (any, error) {
	out := TradingMembers{Sell: []Member{}, Buy: []Member{}}
	for i := 1; i <= memberRanks; i++ {
		if name := text(body[fmt.Sprintf("sel_trde_ori_nm_%d", i)]); name != "" {
			out.Sell = append(out.Sell, Member{Member: name, Volume: volume(body[fmt.Sprintf("sel_trde_qty_%d", i)])})
		}
		if name := text(body[fmt.Sprintf("buy_trde_ori_nm_%d", i)]); name != "" {
			out.Buy = append(out.Buy, Member{Member: name, Volume: volume(body[fmt.Sprintf("buy_trde_qty_%d", i)])})
		}
	}
	return out, nil
}

func (memberSelector) String() string { return "members(sel_trde_*, buy_trde_*)" }

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// volume strips the upstream direction sign and zero padding: "+000120" -> "120".
// Unparseable values are passed through trimmed.
func volume(v any) string {
	s := strings.TrimLeft(text(v), "+-")
	if s == "" {
		return "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}
