package data

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// Record is the concrete, serializable Data implementation. The store
// persists records; plugin-defined types are converted with ToRecord.
//
// A record's identity is fixed at construction. Key holds the identifying
// properties; Attrs holds everything else and is merged when the same
// object is stored twice.
type Record struct {
	identity   string
	kind       Kind
	subtype    string
	key        map[string]string
	attrs      map[string]string
	links      []Link
	discovered []Data
}

var _ Data = (*Record)(nil)

// NewRecord builds a record, computing its identity from kind, subtype and key.
func NewRecord(kind Kind, subtype string, key, attrs map[string]string, links ...Link) (*Record, error) {
	id, err := ComputeIdentity(kind, subtype, key)
	if err != nil {
		return nil, err
	}
	return &Record{
		identity: id,
		kind:     kind,
		subtype:  subtype,
		key:      maps.Clone(key),
		attrs:    maps.Clone(attrs),
		links:    normalizeLinks(links),
	}, nil
}

// NewURL builds a URL resource. The scheme and host are lowercased and the
// fragment dropped; the host is reported as a discovered domain or IP.
func NewURL(raw string) (*Record, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("new url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("new url %q: absolute URL required", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	r, err := NewRecord(KindResource, SubtypeURL, map[string]string{"url": u.String()}, nil)
	if err != nil {
		return nil, err
	}

	host := u.Hostname()
	var parent *Record
	if _, perr := netip.ParseAddr(host); perr == nil {
		parent, err = NewIP(host)
	} else {
		parent, err = NewDomain(host)
	}
	if err != nil {
		return nil, err
	}
	r.discovered = []Data{parent}
	return r, nil
}

// NewDomain builds a domain name resource.
func NewDomain(name string) (*Record, error) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "" {
		return nil, fmt.Errorf("new domain: empty name")
	}
	return NewRecord(KindResource, SubtypeDomain, map[string]string{"name": name}, nil)
}

// NewIP builds an IP address resource.
func NewIP(addr string) (*Record, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("new ip: %w", err)
	}
	version := "4"
	if ip.Is6() && !ip.Is4In6() {
		version = "6"
	}
	return NewRecord(KindResource, SubtypeIP,
		map[string]string{"address": ip.Unmap().String()},
		map[string]string{"version": version})
}

// NewInformation builds an information object linked to the given data.
func NewInformation(subtype string, key, attrs map[string]string, about ...Data) (*Record, error) {
	return NewRecord(KindInformation, subtype, key, attrs, linksTo(about)...)
}

// NewVulnerability builds a vulnerability linked to the data it affects.
func NewVulnerability(subtype string, key, attrs map[string]string, affects ...Data) (*Record, error) {
	return NewRecord(KindVulnerability, subtype, key, attrs, linksTo(affects)...)
}

// ToRecord converts any Data into a Record, keeping its identity.
func ToRecord(d Data) *Record {
	if r, ok := d.(*Record); ok {
		return r
	}
	return &Record{
		identity:   d.Identity(),
		kind:       d.Kind(),
		subtype:    d.Subtype(),
		links:      normalizeLinks(d.Links()),
		discovered: d.Discovered(),
	}
}

func (r *Record) Identity() string   { return r.identity }
func (r *Record) Kind() Kind         { return r.kind }
func (r *Record) Subtype() string    { return r.subtype }
func (r *Record) Links() []Link      { return slices.Clone(r.links) }
func (r *Record) Discovered() []Data { return slices.Clone(r.discovered) }

// Tag returns the kind/subtype tag of the record.
func (r *Record) Tag() Tag { return Tag{Kind: r.kind, Subtype: r.subtype} }

// Key returns an identifying property.
func (r *Record) Key(name string) string { return r.key[name] }

// Attr returns a non-identifying attribute.
func (r *Record) Attr(name string) string { return r.attrs[name] }

// WithDiscovered returns a copy of r reporting the given sub-resources.
func (r *Record) WithDiscovered(found ...Data) *Record {
	c := r.clone()
	c.discovered = append(c.discovered, found...)
	return c
}

// Merge returns a copy of r with other's attributes laid over its own and
// the union of both link sets. Both must share an identity.
func (r *Record) Merge(other *Record) (*Record, error) {
	if r.identity != other.identity {
		return nil, fmt.Errorf("merge: identity mismatch %s != %s", r.identity, other.identity)
	}
	c := r.clone()
	if len(other.attrs) > 0 && c.attrs == nil {
		c.attrs = make(map[string]string, len(other.attrs))
	}
	maps.Copy(c.attrs, other.attrs)
	c.links = normalizeLinks(append(c.links, other.links...))
	return c, nil
}

func (r *Record) String() string {
	return fmt.Sprintf("%s %s", r.Tag(), shortID(r.identity))
}

func (r *Record) clone() *Record {
	return &Record{
		identity:   r.identity,
		kind:       r.kind,
		subtype:    r.subtype,
		key:        maps.Clone(r.key),
		attrs:      maps.Clone(r.attrs),
		links:      slices.Clone(r.links),
		discovered: slices.Clone(r.discovered),
	}
}

// wireRecord is the JSON shape of a record. Discovered data is transient
// and never serialized.
type wireRecord struct {
	Identity string            `json:"identity"`
	Kind     Kind              `json:"kind"`
	Subtype  string            `json:"subtype"`
	Key      map[string]string `json:"key,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Links    []Link            `json:"links,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Identity: r.identity,
		Kind:     r.kind,
		Subtype:  r.subtype,
		Key:      r.key,
		Attrs:    r.attrs,
		Links:    r.links,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if w.Identity == "" {
		return fmt.Errorf("unmarshal record: missing identity")
	}
	*r = Record{
		identity: w.Identity,
		kind:     w.Kind,
		subtype:  w.Subtype,
		key:      w.Key,
		attrs:    w.Attrs,
		links:    normalizeLinks(w.Links),
	}
	return nil
}

func linksTo(ds []Data) []Link {
	links := make([]Link, 0, len(ds))
	for _, d := range ds {
		links = append(links, LinkTo(d))
	}
	return links
}

// normalizeLinks deduplicates and sorts links by identity.
func normalizeLinks(links []Link) []Link {
	if len(links) == 0 {
		return nil
	}
	out := slices.Clone(links)
	slices.SortFunc(out, func(a, b Link) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return slices.CompactFunc(out, func(a, b Link) bool {
		return a.Identity == b.Identity
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
