package middleware

import (
	"regexp"
	"strings"
)

// Path patterns come in three kinds, discriminated by syntax:
//   - "regex:<expr>"   regular expression, anchored at the start of the path
//   - contains * or ?  glob, * matching any run of characters and ? exactly one
//   - anything else    exact string equality
//
// Matching is case-sensitive. An empty pattern never matches.

type pathPattern struct {
	literal string
	re      *regexp.Regexp
}

func compilePattern(pattern string) (pathPattern, error) {
	if strings.HasPrefix(pattern, "regex:") {
		re, err := regexp.Compile("^(?:" + strings.TrimPrefix(pattern, "regex:") + ")")
		if err != nil {
			return pathPattern{}, err
		}
		return pathPattern{re: re}, nil
	}

	if strings.ContainsAny(pattern, "*?") {
		var b strings.Builder
		b.WriteString("^")
		for _, r := range pattern {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteString("$")
		re, err := regexp.Compile(b.String())
		if err != nil {
			return pathPattern{}, err
		}
		return pathPattern{re: re}, nil
	}

	return pathPattern{literal: pattern}, nil
}

func (p pathPattern) matches(requestPath string) bool {
	if p.re != nil {
		return p.re.MatchString(requestPath)
	}
	return p.literal != "" && p.literal == requestPath
}

func compilePatterns(patterns []string) ([]pathPattern, error) {
	compiled := make([]pathPattern, 0, len(patterns))
	for _, pattern := range patterns {
		p, err := compilePattern(pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return compiled, nil
}

// matchesAny reports whether any pattern matches, short-circuiting on the
// first hit.
func matchesAny(patterns []pathPattern, requestPath string) bool {
	for _, p := range patterns {
		if p.matches(requestPath) {
			return true
		}
	}
	return false
}

// Match reports whether a single pattern matches a request path.
func Match(pattern, requestPath string) (bool, error) {
	p, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}
	return p.matches(requestPath), nil
}

// MatchAny reports whether any of the patterns matches a request path.
func MatchAny(patterns []string, requestPath string) (bool, error) {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return false, err
	}
	return matchesAny(compiled, requestPath), nil
}
