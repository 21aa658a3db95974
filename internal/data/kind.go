package data

import (
	"fmt"
	"strings"
)

// Kind is the top-level classification of a data object.
// KindAny is only meaningful as a filter.
type Kind int

const (
	KindAny Kind = iota
	KindInformation
	KindResource
	KindVulnerability
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindInformation:
		return "information"
	case KindResource:
		return "resource"
	case KindVulnerability:
		return "vulnerability"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any", "":
		return KindAny, nil
	case "information", "info":
		return KindInformation, nil
	case "resource":
		return KindResource, nil
	case "vulnerability", "vuln":
		return KindVulnerability, nil
	default:
		return KindAny, fmt.Errorf("unknown data kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if k < KindAny || k > KindVulnerability {
		return nil, fmt.Errorf("invalid data kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Resource subtypes the core itself knows how to build.
const (
	SubtypeURL    = "url"
	SubtypeDomain = "domain"
	SubtypeIP     = "ip"
)

// Tag names a class of data a plugin accepts: a bare kind ("resource")
// or a kind and subtype ("resource/url").
type Tag struct {
	Kind    Kind
	Subtype string
}

// ParseTag parses "kind" or "kind/subtype".
func ParseTag(s string) (Tag, error) {
	kind, sub, _ := strings.Cut(s, "/")
	k, err := ParseKind(kind)
	if err != nil {
		return Tag{}, err
	}
	if k == KindAny && sub != "" {
		return Tag{}, fmt.Errorf("tag %q: subtype without kind", s)
	}
	return Tag{Kind: k, Subtype: sub}, nil
}

// MustParseTag is like ParseTag but panics on error.
func MustParseTag(s string) Tag {
	t, err := ParseTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string {
	if t.Subtype == "" {
		return t.Kind.String()
	}
	return t.Kind.String() + "/" + t.Subtype
}

// Matches reports whether d falls under the tag. A bare kind tag matches
// every subtype of that kind.
func (t Tag) Matches(d Data) bool {
	if t.Kind != KindAny && t.Kind != d.Kind() {
		return false
	}
	return t.Subtype == "" || t.Subtype == d.Subtype()
}

// MatchesAny reports whether d matches one of tags. A nil tag list accepts everything.
func MatchesAny(tags []Tag, d Data) bool {
	if tags == nil {
		return true
	}
	for _, t := range tags {
		if t.Matches(d) {
			return true
		}
	}
	return false
}
