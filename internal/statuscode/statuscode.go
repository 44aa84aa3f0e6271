// Package statuscode classifies HTTP status codes as delivery success or
// failure using ordered whitelist and error-code rules.
package statuscode

import (
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the outcome of evaluating one rule.
type Verdict int

const (
	// Abstain defers to the next rule.
	Abstain Verdict = iota
	// Success marks the code as delivered.
	Success
	// Failure marks the code as an error.
	Failure
)

// Rule evaluates a status code.
type Rule func(code int) Verdict

// Pipeline returns the verdict of the first rule that does not abstain, or
// Success if every rule abstains.
func Pipeline(rules []Rule, code int) Verdict {
	for _, r := range rules {
		if v := r(code); v != Abstain {
			return v
		}
	}
	return Success
}

// Matcher reports whether a code matches a configured entry.
type Matcher func(code int) bool

// Exact matches one status code.
func Exact(want int) Matcher {
	return func(code int) bool { return code == want }
}

// Prefix matches codes whose decimal form starts with p ("4" for 4xx).
func Prefix(p string) Matcher {
	return func(code int) bool { return strings.HasPrefix(strconv.Itoa(code), p) }
}

// Range matches codes in [lo, hi].
func Range(lo, hi int) Matcher {
	return func(code int) bool { return code >= lo && code <= hi }
}

// Whitelist yields Success for any matching code.
func Whitelist(ms ...Matcher) Rule {
	return verdictRule(Success, ms)
}

// ErrorCodes yields Failure for any matching code.
func ErrorCodes(ms ...Matcher) Rule {
	return verdictRule(Failure, ms)
}

func verdictRule(v Verdict, ms []Matcher) Rule {
	return func(code int) Verdict {
		for _, m := range ms {
			if m(code) {
				return v
			}
		}
		return Abstain
	}
}

// Invalid fails codes outside the three-digit HTTP range.
func Invalid() Rule {
	return func(code int) Verdict {
		if code < 100 || code > 999 {
			return Failure
		}
		return Abstain
	}
}

// DefaultErrorCodes is used when no error codes are configured.
const DefaultErrorCodes = "4xx,5xx"

// ParseList parses a comma-separated list of codes ("404") and wildcard
// prefixes ("5xx", "40X").
func ParseList(list string) ([]Matcher, error) {
	var out []Matcher
	for _, raw := range strings.Split(list, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		m, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parseEntry(entry string) (Matcher, error) {
	if len(entry) != 3 {
		return nil, fmt.Errorf("status code %q must have three characters", entry)
	}
	prefix := strings.TrimRight(entry, "xX")
	if prefix == "" {
		return nil, fmt.Errorf("status code %q has no leading digit", entry)
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("status code %q contains an illegal character", entry)
		}
	}
	if prefix[0] < '1' || prefix[0] > '5' {
		return nil, fmt.Errorf("status code %q is outside 1xx-5xx", entry)
	}
	if len(prefix) == 3 {
		code, _ := strconv.Atoi(prefix)
		return Exact(code), nil
	}
	return Prefix(prefix), nil
}

// Classifier is built once from configuration and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New builds a Classifier from whitelist and error-code lists. An empty
// error-code list falls back to DefaultErrorCodes.
func New(whitelist, errorCodes string) (*Classifier, error) {
	white, err := ParseList(whitelist)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	if strings.TrimSpace(errorCodes) == "" {
		errorCodes = DefaultErrorCodes
	}
	failing, err := ParseList(errorCodes)
	if err != nil {
		return nil, fmt.Errorf("error codes: %w", err)
	}

	rules := []Rule{Invalid()}
	if len(white) > 0 {
		rules = append(rules, Whitelist(white...))
	}
	rules = append(rules, ErrorCodes(failing...))
	return &Classifier{rules: rules}, nil
}

// NewFromRules builds a Classifier from an explicit rule list.
func NewFromRules(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// IsError reports whether code is a delivery failure.
func (c *Classifier) IsError(code int) bool {
	return Pipeline(c.rules, code) == Failure
}
