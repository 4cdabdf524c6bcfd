package jq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/transaction"
	"github.com/brojonat/walletcore/service/units"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
)

// variables are bound in every expression, in this order.
var variables = []string{"$address", "$tip"}

type program struct {
	src  string
	code *gojq.Code
}

// compile returns nil for an empty expression.
func compile(src string) (*program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", src, err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables(variables))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", src, err)
	}
	return &program{src: src, code: code}, nil
}

// all runs p against v and collects every output. A nil program is the
// identity.
func (p *program) all(v any, s explorer.Scope) ([]any, error) {
	if p == nil {
		return []any{v}, nil
	}
	iter := p.code.Run(v, s.Address, int(s.Tip))
	var out []any
	for {
		r, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq filter %q: %w", p.src, err)
		}
		out = append(out, r)
	}
}

// first returns the first output of p, or nil when p is nil or yields
// nothing.
func (p *program) first(v any, s explorer.Scope) (any, error) {
	if p == nil {
		return nil, nil
	}
	out, err := p.all(v, s)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// records runs p and flattens array outputs one level, so both ".txs" and
// ".txs[]" select a list of records.
func (p *program) records(v any, s explorer.Scope) ([]any, error) {
	out, err := p.all(v, s)
	if err != nil {
		return nil, err
	}
	recs := make([]any, 0, len(out))
	for _, r := range out {
		switch r := r.(type) {
		case nil:
		case []any:
			recs = append(recs, r...)
		default:
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// decode parses a JSON body into the value types gojq accepts. Integers keep
// full precision.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if b, ok := new(big.Int).SetString(v.String(), 10); ok {
			return b
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = normalize(v[i])
		}
		return v
	case map[string]any:
		for k, x := range v {
			v[k] = normalize(x)
		}
		return v
	default:
		return v
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case nil:
		return decimal.Zero, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case *big.Int:
		return decimal.NewFromBigInt(v, 0), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return units.ParseMinimal(s)
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("cannot use %T as an amount", v)
	}
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case *big.Int:
		return v.Int64(), v.IsInt64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *big.Int:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// truthy follows jq: only false and null are false.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// toTime accepts the string layouts transaction.ParseDateTime knows and
// numeric unix seconds or milliseconds.
func toTime(v any) time.Time {
	if s, ok := v.(string); ok {
		t, err := transaction.ParseDateTime(s)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	n, ok := toInt64(v)
	if !ok || n <= 0 {
		return time.Time{}
	}
	return transaction.FromUnix(n)
}
