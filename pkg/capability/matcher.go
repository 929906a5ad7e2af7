package capability

// Matcher decides whether middleware applies to a bot with the given descriptor.
// Matchers are evaluated on every walk, so they must be cheap and side effect free.
type Matcher interface {
	Match(d Descriptor) bool
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(Descriptor) bool

func (f MatcherFunc) Match(d Descriptor) bool { return f(d) }

// Any matches every descriptor.
func Any() Matcher {
	return anyMatcher{}
}

type anyMatcher struct{}

func (anyMatcher) Match(Descriptor) bool { return true }

// TypeIn matches descriptors whose bot type is one of types.
func TypeIn(types ...string) Matcher {
	return typeIn{types: NewSet(types...)}
}

type typeIn struct {
	types Set
}

func (m typeIn) Match(d Descriptor) bool {
	return m.types.Has(d.Type)
}

// TypeNotIn matches descriptors whose bot type is none of types.
func TypeNotIn(types ...string) Matcher {
	return Not(TypeIn(types...))
}

// Receives matches descriptors that can produce the given update kind.
func Receives(tag string) Matcher {
	return receives{tag: tag}
}

type receives struct {
	tag string
}

func (m receives) Match(d Descriptor) bool {
	return d.Receives.Has(m.tag)
}

// Sends matches descriptors that accept the given message kind.
func Sends(tag string) Matcher {
	return sends{tag: tag}
}

type sends struct {
	tag string
}

func (m sends) Match(d Descriptor) bool {
	return d.Sends.Has(m.tag)
}

// RetrievesUserInfo matches descriptors whose user info support equals want.
func RetrievesUserInfo(want bool) Matcher {
	return retrievesUserInfo{want: want}
}

type retrievesUserInfo struct {
	want bool
}

func (m retrievesUserInfo) Match(d Descriptor) bool {
	return d.RetrievesUserInfo == m.want
}

// And matches when all matchers match. And() with no arguments matches everything.
func And(ms ...Matcher) Matcher {
	return and{ms: ms}
}

type and struct {
	ms []Matcher
}

func (m and) Match(d Descriptor) bool {
	for _, inner := range m.ms {
		if !inner.Match(d) {
			return false
		}
	}
	return true
}

// Or matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return or{ms: ms}
}

type or struct {
	ms []Matcher
}

func (m or) Match(d Descriptor) bool {
	for _, inner := range m.ms {
		if inner.Match(d) {
			return true
		}
	}
	return false
}

// Not inverts a matcher.
func Not(inner Matcher) Matcher {
	return not{inner: inner}
}

type not struct {
	inner Matcher
}

func (m not) Match(d Descriptor) bool {
	return !m.inner.Match(d)
}
