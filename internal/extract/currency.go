package extract

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

// Errors returned while normalizing an amount. Either one drops the
// mention it belongs to.
var (
	ErrUnknownUnit     = errors.New("unknown currency unit")
	ErrMalformedAmount = errors.New("malformed amount")
)

type unit struct {
	name   string
	factor float64
}

// Normalizer converts amounts written in any configured currency unit into
// major units.
type Normalizer struct {
	major   string
	byAlias map[string]unit
	aliases []string // longest first
}

// NewNormalizer builds a Normalizer from the currency table. Aliases and
// unit names are matched case-insensitively.
func NewNormalizer(cfg config.MarketConfig) *Normalizer {
	n := &Normalizer{
		major:   strings.ToLower(cfg.MajorUnit),
		byAlias: map[string]unit{},
	}
	for _, c := range cfg.Currencies {
		u := unit{name: strings.ToLower(c.Unit), factor: c.Factor}
		for _, a := range append([]string{c.Unit}, c.Aliases...) {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, dup := n.byAlias[a]; dup {
				continue
			}
			n.byAlias[a] = u
			n.aliases = append(n.aliases, a)
		}
	}
	sort.SliceStable(n.aliases, func(i, j int) bool {
		return len(n.aliases[i]) > len(n.aliases[j])
	})
	return n
}

// Major returns the canonical unit name.
func (n *Normalizer) Major() string { return n.major }

// Aliases returns every recognised unit token, longest first.
func (n *Normalizer) Aliases() []string { return n.aliases }

// Unit resolves a token to its canonical unit name. An empty token is the
// major unit.
func (n *Normalizer) Unit(token string) (string, error) {
	u, err := n.lookup(token)
	if err != nil {
		return "", err
	}
	return u.name, nil
}

// Normalize returns amount expressed in major units. An empty token means
// the amount is already in major units.
func (n *Normalizer) Normalize(amount, token string) (float64, error) {
	u, err := n.lookup(token)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, amount)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, amount)
	}
	return v * u.factor, nil
}

func (n *Normalizer) lookup(token string) (unit, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		token = n.major
	}
	u, ok := n.byAlias[token]
	if !ok {
		return unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, token)
	}
	return u, nil
}
