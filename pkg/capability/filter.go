package capability

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is wrapped by every filter validation failure.
var ErrInvalidFilter = errors.New("invalid middleware filter")

// Filter is the declarative option set used when registering incoming middleware.
// Every populated field must hold for the middleware to apply.
type Filter struct {
	BotTypesToInclude    []string
	BotTypesToExclude    []string
	BotReceives          string
	BotSends             string
	BotRetrievesUserInfo *bool
}

// IsZero reports whether no option is set.
func (f Filter) IsZero() bool {
	return len(f.BotTypesToInclude) == 0 &&
		len(f.BotTypesToExclude) == 0 &&
		f.BotReceives == "" &&
		f.BotSends == "" &&
		f.BotRetrievesUserInfo == nil
}

// Compile validates the filter and returns the equivalent Matcher.
func (f Filter) Compile() (Matcher, error) {
	if f.IsZero() {
		return Any(), nil
	}

	include, err := tagList("botTypesToInclude", f.BotTypesToInclude)
	if err != nil {
		return nil, err
	}
	exclude, err := tagList("botTypesToExclude", f.BotTypesToExclude)
	if err != nil {
		return nil, err
	}
	excluded := NewSet(exclude...)
	for _, tag := range include {
		if excluded.Has(tag) {
			return nil, fmt.Errorf("%w: bot type %q is both included and excluded", ErrInvalidFilter, tag)
		}
	}

	var ms []Matcher
	if len(include) > 0 {
		ms = append(ms, TypeIn(include...))
	}
	if len(exclude) > 0 {
		ms = append(ms, TypeNotIn(exclude...))
	}
	if f.BotReceives != "" {
		tag := strings.TrimSpace(f.BotReceives)
		if tag == "" {
			return nil, fmt.Errorf("%w: botReceives is blank", ErrInvalidFilter)
		}
		ms = append(ms, Receives(tag))
	}
	if f.BotSends != "" {
		tag := strings.TrimSpace(f.BotSends)
		if tag == "" {
			return nil, fmt.Errorf("%w: botSends is blank", ErrInvalidFilter)
		}
		ms = append(ms, Sends(tag))
	}
	if f.BotRetrievesUserInfo != nil {
		ms = append(ms, RetrievesUserInfo(*f.BotRetrievesUserInfo))
	}

	return And(ms...), nil
}

func tagList(option string, tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: %s contains a blank bot type", ErrInvalidFilter, option)
		}
		out = append(out, trimmed)
	}
	return out, nil
}

// Bool returns a pointer to b, for BotRetrievesUserInfo.
func Bool(b bool) *bool {
	return &b
}
