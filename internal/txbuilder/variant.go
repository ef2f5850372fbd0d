package txbuilder

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Variant is one entry of a weighted workload table.
type Variant struct {
	Kind   types.TxKind
	Weight int
	// Every restricts the variant to issue counts that are a multiple of
	// Every. Zero means always eligible.
	Every int
}

// DefaultVariants is an even split across transfers, calls and deployments,
// with deployments limited to every tenth issued transaction.
func DefaultVariants() []Variant {
	return []Variant{
		{Kind: types.TxKindTransfer, Weight: 1},
		{Kind: types.TxKindDeploy, Weight: 1, Every: 10},
		{Kind: types.TxKindCall, Weight: 1},
	}
}

// Rand is the randomness a VariantTable draws from.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand uses the goroutine-safe, auto-seeded math/rand/v2 source.
var DefaultRand Rand = globalRand{}

// VariantTable selects a workload variant by weight.
type VariantTable struct {
	variants []Variant
}

// NewVariantTable validates and builds a table. Each kind may appear once,
// weights must be non-negative and at least one weight must be positive.
func NewVariantTable(variants ...Variant) (*VariantTable, error) {
	seen := make(map[types.TxKind]bool, len(variants))
	total := 0
	for _, v := range variants {
		switch v.Kind {
		case types.TxKindTransfer, types.TxKindCall, types.TxKindDeploy:
		default:
			return nil, fmt.Errorf("unknown variant %q", v.Kind)
		}
		if seen[v.Kind] {
			return nil, fmt.Errorf("duplicate variant %q", v.Kind)
		}
		seen[v.Kind] = true
		if v.Weight < 0 {
			return nil, fmt.Errorf("variant %q has negative weight", v.Kind)
		}
		if v.Every < 0 {
			return nil, fmt.Errorf("variant %q has negative every", v.Kind)
		}
		total += v.Weight
	}
	if total == 0 {
		return nil, fmt.Errorf("variant weights must sum to a positive value")
	}
	return &VariantTable{variants: append([]Variant(nil), variants...)}, nil
}

// Variants returns a copy of the table entries.
func (t *VariantTable) Variants() []Variant {
	return append([]Variant(nil), t.variants...)
}

// Has reports whether kind can ever be picked.
func (t *VariantTable) Has(kind types.TxKind) bool {
	for _, v := range t.variants {
		if v.Kind == kind && v.Weight > 0 {
			return true
		}
	}
	return false
}

func (v Variant) eligible(issued int) bool {
	return v.Weight > 0 && (v.Every == 0 || issued%v.Every == 0)
}

// Pick selects a variant for the issued-th transaction. Variants whose Every
// rule excludes this position are skipped and the remaining weights are
// renormalized. ok is false when nothing is eligible.
func (t *VariantTable) Pick(r Rand, issued int) (kind types.TxKind, ok bool) {
	total := 0
	for _, v := range t.variants {
		if v.eligible(issued) {
			total += v.Weight
		}
	}
	if total == 0 {
		return "", false
	}

	roll := r.IntN(total)
	cumulative := 0
	for _, v := range t.variants {
		if !v.eligible(issued) {
			continue
		}
		cumulative += v.Weight
		if roll < cumulative {
			return v.Kind, true
		}
	}
	return "", false
}

// ParseVariants parses "transfer=2,call=1,deploy=1/10" where the optional
// "/N" suffix sets Every.
func ParseVariants(s string) ([]Variant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultVariants(), nil
	}

	var variants []Variant
	for _, part := range strings.Split(s, ",") {
		name, rule, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, fmt.Errorf("invalid variant %q: want kind=weight", part)
		}
		v := Variant{Kind: types.TxKind(strings.TrimSpace(name))}

		weight, every, hasEvery := strings.Cut(rule, "/")
		w, err := strconv.Atoi(strings.TrimSpace(weight))
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %q: %w", name, err)
		}
		v.Weight = w
		if hasEvery {
			e, err := strconv.Atoi(strings.TrimSpace(every))
			if err != nil {
				return nil, fmt.Errorf("invalid every for %q: %w", name, err)
			}
			v.Every = e
		}
		variants = append(variants, v)
	}
	return variants, nil
}
