// Package classifier labels administrative orders as traffic-related using a
// versioned table of keywords and regular expressions.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Classifier matches a rule table against an order's title and content.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	version  string
	keywords []keyword
	patterns []*regexp.Regexp
}

// keyword matches a whole word or phrase, optionally pluralized, so that
// "rue" fires on "rues" but not inside "Rueil".
type keyword struct {
	text string
	re   *regexp.Regexp
}

func compileKeyword(kw string) (keyword, error) {
	re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `(?:s|x)?(?:$|[^\p{L}\p{N}])`)
	if err != nil {
		return keyword{}, fmt.Errorf("compile keyword %q: %w", kw, err)
	}
	return keyword{text: kw, re: re}, nil
}

// New compiles rules into a Classifier.
func New(rules Rules) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		version:  rules.Version,
		keywords: make([]keyword, 0, len(rules.Keywords)),
		patterns: make([]*regexp.Regexp, 0, len(rules.Patterns)),
	}
	for _, kw := range rules.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		k, err := compileKeyword(kw)
		if err != nil {
			return nil, err
		}
		c.keywords = append(c.keywords, k)
	}
	for _, p := range rules.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// MustDefault returns a Classifier over DefaultRules.
func MustDefault() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Version reports the rule table version the classifier was built from.
func (c *Classifier) Version() string {
	return c.version
}

// IsTrafficOrder reports whether any keyword or pattern matches the title or
// the content.
func (c *Classifier) IsTrafficOrder(title, content string) bool {
	_, ok := c.Match(title, content)
	return ok
}

// Match returns the first rule that fired, for diagnostics.
func (c *Classifier) Match(title, content string) (string, bool) {
	for _, text := range []string{title, content} {
		if text == "" {
			continue
		}
		for _, kw := range c.keywords {
			if kw.re.MatchString(text) {
				return "keyword:" + kw.text, true
			}
		}
		for _, re := range c.patterns {
			if re.MatchString(text) {
				return "pattern:" + re.String(), true
			}
		}
	}
	return "", false
}
