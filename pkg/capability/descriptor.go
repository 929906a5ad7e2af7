// Package capability describes what a bot platform can receive and send and
// provides composable predicates used to scope middleware to bots.
package capability

import (
	"errors"
	"slices"
	"strings"
)

// Update kinds a platform may produce.
const (
	ReceivesText       = "text"
	ReceivesImage      = "image"
	ReceivesAudio      = "audio"
	ReceivesVideo      = "video"
	ReceivesFile       = "file"
	ReceivesLocation   = "location"
	ReceivesEcho       = "echo"
	ReceivesRead       = "read"
	ReceivesDelivery   = "delivery"
	ReceivesPostback   = "postback"
	ReceivesQuickReply = "quickReply"
)

// Message kinds a platform may accept.
const (
	SendsText            = "text"
	SendsImage           = "image"
	SendsAudio           = "audio"
	SendsVideo           = "video"
	SendsFile            = "file"
	SendsQuickReply      = "quickReply"
	SendsButtons         = "buttons"
	SendsTypingIndicator = "typingIndicator"
)

// ErrMissingType is returned when a descriptor has no bot type tag.
var ErrMissingType = errors.New("capability descriptor requires a bot type")

// Set is an unordered collection of capability tags.
type Set map[string]struct{}

// NewSet builds a Set from tags, ignoring blanks.
func NewSet(tags ...string) Set {
	s := make(Set, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		s[tag] = struct{}{}
	}
	return s
}

// Has reports whether tag is in the set.
func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for tag := range s {
		out[tag] = struct{}{}
	}
	return out
}

// Sorted returns the tags in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// Descriptor is static metadata about one bot platform.
type Descriptor struct {
	Type              string
	Receives          Set
	Sends             Set
	RetrievesUserInfo bool
}

// Validate checks the descriptor can be registered.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Type) == "" {
		return ErrMissingType
	}
	return nil
}

// Clone returns a deep copy so registered descriptors cannot be mutated by the adapter.
func (d Descriptor) Clone() Descriptor {
	return Descriptor{
		Type:              strings.TrimSpace(d.Type),
		Receives:          d.Receives.Clone(),
		Sends:             d.Sends.Clone(),
		RetrievesUserInfo: d.RetrievesUserInfo,
	}
}

// Summary is the JSON shape used when a descriptor is reported over HTTP.
type Summary struct {
	Type              string   `json:"type"`
	Receives          []string `json:"receives"`
	Sends             []string `json:"sends"`
	RetrievesUserInfo bool     `json:"retrieves_user_info"`
}

// Summary flattens the descriptor into sorted tag lists.
func (d Descriptor) Summary() Summary {
	return Summary{
		Type:              d.Type,
		Receives:          d.Receives.Sorted(),
		Sends:             d.Sends.Sorted(),
		RetrievesUserInfo: d.RetrievesUserInfo,
	}
}
