package retention

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// infiniteAge marks the implicit trailing tier every canonicalised
// expression is terminated with.
const infiniteAge = time.Duration(1<<63 - 1)

var loneIntegerPattern = regexp.MustCompile(`^\s*\d+\s*$`)

var unitByLetter = map[string]Unit{
	"h": Hour, "d": Day, "w": Week, "m": Month, "y": Year,
}

var keywordInterval = map[string]Unit{
	"hourly":  Hour,
	"daily":   Day,
	"weekly":  Week,
	"monthly": Month,
	"yearly":  Year,
}

// Parse parses and canonicalises a retention expression per the grammar:
//
//	Expression := Integer | RuleList
//	RuleList   := Rule ("," Rule)*
//	Rule       := Duration ":" Keep
//	Duration   := Integer Unit
//	Unit       := "h" | "d" | "w" | "m" | "y"
//	Keep       := "all" | "none" | KeepSpec
//	KeepSpec   := Integer "/" Unit | Unit
func Parse(input string) (Expression, error) {
	if loneIntegerPattern.MatchString(input) {
		n, err := strconv.ParseUint(strings.TrimSpace(input), 10, 32)
		if err != nil || n == 0 {
			return Expression{}, &ParseError{Input: input, Pos: 0, Msg: "lone integer must be a positive count"}
		}
		return canonicalize([]Rule{{Age: 0, Keep: Keep{Mode: Recent, N: uint32(n)}}})
	}

	p := &parser{lex: newLexer(input), input: input}
	if err := p.advance(); err != nil {
		return Expression{}, err
	}

	var rules []Rule
	for {
		rule, err := p.parseRule()
		if err != nil {
			return Expression{}, err
		}
		rules = append(rules, rule)

		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return Expression{}, err
			}
			continue
		}
		break
	}

	if p.tok.kind != tokEOF {
		return Expression{}, &ParseError{Input: input, Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected trailing input %q", p.tok.text)}
	}

	return canonicalize(rules)
}

type parser struct {
	lex   *lexer
	tok   token
	input string
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseRule() (Rule, error) {
	age, err := p.parseDuration()
	if err != nil {
		return Rule{}, err
	}
	if p.tok.kind != tokColon {
		return Rule{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "expected ':' after duration"}
	}
	if err := p.advance(); err != nil {
		return Rule{}, err
	}
	keep, err := p.parseKeep()
	if err != nil {
		return Rule{}, err
	}
	return Rule{Age: age, Keep: keep}, nil
}

func (p *parser) parseDuration() (time.Duration, error) {
	if p.tok.kind != tokInt {
		return 0, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "expected a duration integer"}
	}
	n, err := strconv.ParseUint(p.tok.text, 10, 32)
	if err != nil {
		return 0, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "duration magnitude out of range"}
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	if p.tok.kind != tokIdent || len(p.tok.text) != 1 {
		return 0, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "expected a duration unit (h, d, w, m, y)"}
	}
	u, ok := unitByLetter[p.tok.text]
	if !ok {
		return 0, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: fmt.Sprintf("unknown duration unit %q", p.tok.text)}
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	return durationOf(uint32(n), u, 1), nil
}

func (p *parser) parseKeep() (Keep, error) {
	switch {
	case p.tok.kind == tokIdent && p.tok.text == "all":
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		return Keep{Mode: All}, nil

	case p.tok.kind == tokIdent && p.tok.text == "none":
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		return Keep{Mode: None}, nil

	case p.tok.kind == tokIdent && isKeywordInterval(p.tok.text):
		u := keywordInterval[p.tok.text]
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		return Keep{Mode: Interval, N: 1, Unit: u, Multiplier: 1}, nil

	case p.tok.kind == tokIdent && len(p.tok.text) == 1 && unitKnown(p.tok.text):
		// Bare unit shorthand: "d" == "1/d".
		u := unitByLetter[p.tok.text]
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		return Keep{Mode: Interval, N: 1, Unit: u, Multiplier: 1}, nil

	case p.tok.kind == tokInt:
		n, err := strconv.ParseUint(p.tok.text, 10, 32)
		if err != nil || n == 0 {
			return Keep{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "keep count must be a positive integer"}
		}
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		if p.tok.kind != tokSlash {
			return Keep{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "expected '/' in keep spec"}
		}
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		multiplier := uint32(1)
		if p.tok.kind == tokInt {
			m, err := strconv.ParseUint(p.tok.text, 10, 32)
			if err != nil || m == 0 {
				return Keep{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "keep multiplier must be a positive integer"}
			}
			multiplier = uint32(m)
			if err := p.advance(); err != nil {
				return Keep{}, err
			}
		}
		if p.tok.kind != tokIdent || len(p.tok.text) != 1 || !unitKnown(p.tok.text) {
			return Keep{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: "expected a unit (h, d, w, m, y) in keep spec"}
		}
		u := unitByLetter[p.tok.text]
		if err := p.advance(); err != nil {
			return Keep{}, err
		}
		return Keep{Mode: Interval, N: uint32(n), Unit: u, Multiplier: multiplier}, nil

	default:
		return Keep{}, &ParseError{Input: p.input, Pos: p.tok.pos, Msg: fmt.Sprintf("expected a keep spec, got %q", p.tok.text)}
	}
}

func unitKnown(s string) bool {
	_, ok := unitByLetter[s]
	return ok
}

func isKeywordInterval(s string) bool {
	_, ok := keywordInterval[s]
	return ok
}

// canonicalize sorts rules ascending by age, rejects duplicate ages, and
// appends the implicit terminating +Inf:none tier.
func canonicalize(rules []Rule) (Expression, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sortRulesByAge(sorted)

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Age == sorted[i-1].Age {
			return Expression{}, fmt.Errorf("retention: duplicate age tier %s", formatDuration(sorted[i].Age))
		}
	}

	if len(sorted) == 0 || sorted[len(sorted)-1].Age != infiniteAge {
		sorted = append(sorted, Rule{Age: infiniteAge, Keep: Keep{Mode: None}})
	}

	return Expression{Rules: sorted}, nil
}

func sortRulesByAge(rules []Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Age < rules[j-1].Age; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

func durationOf(n uint32, u Unit, multiplier uint32) time.Duration {
	base := time.Hour
	switch u {
	case Hour:
		base = time.Hour
	case Day:
		base = 24 * time.Hour
	case Week:
		base = 7 * 24 * time.Hour
	case Month:
		base = 30 * 24 * time.Hour
	case Year:
		base = 365 * 24 * time.Hour
	}
	return time.Duration(n) * time.Duration(multiplier) * base
}

func formatDuration(d time.Duration) string {
	if d == infiniteAge {
		return "+inf"
	}
	switch {
	case d%(365*24*time.Hour) == 0 && d >= 365*24*time.Hour:
		return fmt.Sprintf("%dy", d/(365*24*time.Hour))
	case d%(30*24*time.Hour) == 0 && d >= 30*24*time.Hour:
		return fmt.Sprintf("%dm", d/(30*24*time.Hour))
	case d%(7*24*time.Hour) == 0 && d >= 7*24*time.Hour:
		return fmt.Sprintf("%dw", d/(7*24*time.Hour))
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	default:
		return fmt.Sprintf("%dh", d/time.Hour)
	}
}
