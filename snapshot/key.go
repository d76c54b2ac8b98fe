package snapshot

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_dashboard/utils"
)

const (
	DefaultNamespace = "dashboard"
	keySeparator     = ":"
	indexSection     = "INDEX"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// KeyBuilder joins normalized key parts under a fixed namespace.
type KeyBuilder struct {
	namespace string
}

func NewKeyBuilder(namespace string) KeyBuilder {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return KeyBuilder{namespace: namespace}
}

func (b KeyBuilder) Namespace() string { return b.namespace }

// Build normalizes positional parts: each part is trimmed, a part shaped like
// YYYY-MM-DD must be a real calendar date and is kept verbatim, anything else is
// upper-cased. A region or brand code that happens to look like a date takes the
// date branch; use BuildParts with tagged parts to avoid that.
func (b KeyBuilder) Build(parts ...string) (string, error) {
	out := make([]string, 0, len(parts)+1)
	out = append(out, b.namespace)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if datePattern.MatchString(p) {
			if _, err := time.Parse(time.DateOnly, p); err != nil {
				return "", fmt.Errorf("%w: %q is not a calendar date", utils.ErrInvalidKeyPart, p)
			}
			out = append(out, p)
			continue
		}
		out = append(out, strings.ToUpper(p))
	}
	return strings.Join(out, keySeparator), nil
}

// BuildKey builds a key under DefaultNamespace.
func BuildKey(parts ...string) (string, error) {
	return NewKeyBuilder(DefaultNamespace).Build(parts...)
}

type PartKind int

const (
	PartText PartKind = iota
	PartDate
)

// Part is a key component whose normalization is chosen by its kind, not by its shape.
type Part struct {
	Kind  PartKind
	Value string
}

func Text(v string) Part { return Part{Kind: PartText, Value: v} }

func Date(t time.Time) Part { return Part{Kind: PartDate, Value: t.Format(time.DateOnly)} }

func (b KeyBuilder) BuildParts(parts ...Part) (string, error) {
	out := make([]string, 0, len(parts)+1)
	out = append(out, b.namespace)
	for _, p := range parts {
		v := strings.TrimSpace(p.Value)
		switch p.Kind {
		case PartDate:
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				return "", fmt.Errorf("%w: %q is not a calendar date", utils.ErrInvalidKeyPart, v)
			}
		default:
			if v == "" {
				return "", fmt.Errorf("%w: empty key part", utils.ErrInvalidKeyPart)
			}
			if strings.Contains(v, keySeparator) {
				return "", fmt.Errorf("%w: %q contains %q", utils.ErrInvalidKeyPart, v, keySeparator)
			}
			v = strings.ToUpper(v)
		}
		out = append(out, v)
	}
	return strings.Join(out, keySeparator), nil
}

// Key identifies one snapshot.
type Key struct {
	Section  string
	Resource string
	Region   string
	Brand    string
	Date     time.Time
}

// NewKey parses the wire date and normalizes the text parts.
func NewKey(section, resource, region, brand, date string) (Key, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q is not a calendar date", utils.ErrInvalidKeyPart, date)
	}
	k := Key{Section: section, Resource: resource, Region: region, Brand: brand, Date: d}.Normalize()
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) Normalize() Key {
	return Key{
		Section:  strings.ToUpper(strings.TrimSpace(k.Section)),
		Resource: strings.ToUpper(strings.TrimSpace(k.Resource)),
		Region:   strings.ToUpper(strings.TrimSpace(k.Region)),
		Brand:    strings.ToUpper(strings.TrimSpace(k.Brand)),
		Date:     utils.DateOnly(k.Date),
	}
}

func (k Key) Validate() error {
	if strings.EqualFold(strings.TrimSpace(k.Section), indexSection) {
		return fmt.Errorf("%w: section %q is reserved", utils.ErrInvalidKeyPart, indexSection)
	}
	if k.Date.IsZero() {
		return fmt.Errorf("%w: missing date", utils.ErrInvalidKeyPart)
	}
	_, err := NewKeyBuilder("").BuildParts(k.parts()...)
	return err
}

// Equal compares normalized keys.
func (k Key) Equal(o Key) bool {
	a, b := k.Normalize(), o.Normalize()
	return a.Section == b.Section && a.Resource == b.Resource && a.Region == b.Region &&
		a.Brand == b.Brand && a.Date.Equal(b.Date)
}

func (k Key) DateString() string { return k.Date.Format(time.DateOnly) }

func (k Key) parts() []Part {
	return []Part{Text(k.Section), Text(k.Resource), Text(k.Region), Text(k.Brand), Date(k.Date)}
}

func (k Key) String() string {
	return strings.Join([]string{k.Section, k.Resource, k.Region, k.Brand, k.DateString()}, keySeparator)
}

// For renders the wire key <namespace>:<SECTION>:<RESOURCE>:<REGION>:<BRAND>:<YYYY-MM-DD>.
func (b KeyBuilder) For(k Key) (string, error) {
	if strings.EqualFold(strings.TrimSpace(k.Section), indexSection) {
		return "", fmt.Errorf("%w: section %q is reserved", utils.ErrInvalidKeyPart, indexSection)
	}
	return b.BuildParts(k.parts()...)
}

// RegionBrandIndex is the set tracking every key written for (region, brand).
func (b KeyBuilder) RegionBrandIndex(region, brand string) (string, error) {
	return b.BuildParts(Text(indexSection), Text(region), Text(brand))
}

// RegionIndex is the set tracking every key written for region across brands.
func (b KeyBuilder) RegionIndex(region string) (string, error) {
	return b.BuildParts(Text(indexSection), Text(region))
}
