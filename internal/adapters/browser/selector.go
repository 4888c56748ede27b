package browser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const textMarker = ">> text="

// selector is a CSS selector optionally narrowed by a regular expression on the element text,
// written as `css >> text=regex`.
type selector struct {
	css  string
	text string
}

func parseSelector(raw string) (selector, error) {
	css, text, found := strings.Cut(raw, textMarker)
	s := selector{css: strings.TrimSpace(css)}
	if s.css == "" {
		return selector{}, fmt.Errorf("%q: %w", raw, errEmptySelector)
	}
	if found {
		s.text = strings.TrimSpace(text)
		if s.text == "" {
			return selector{}, fmt.Errorf("%q: %w", raw, errEmptySelector)
		}
		if _, err := regexp.Compile(s.text); err != nil {
			return selector{}, fmt.Errorf("%q: text pattern: %w", raw, err)
		}
	}
	return s, nil
}

func parseSelectors(raw []string) []selector {
	out := make([]selector, 0, len(raw))
	for _, r := range raw {
		if s, err := parseSelector(r); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (s selector) String() string {
	if s.text == "" {
		return s.css
	}
	return s.css + " " + textMarker + s.text
}

var errEmptySelector = errors.New("empty selector")
