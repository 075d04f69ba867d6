// Package overpass renders Overpass QL queries and decodes Overpass responses.
package overpass

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

const (
	DefaultEndpoint      = "https://overpass-api.de/api/interpreter"
	DefaultServerTimeout = 300

	// ISOAttribute is the area tag used to scope a query to one country.
	ISOAttribute = "ISO3166-1"
	searchArea   = "searchArea"
)

var (
	ErrNoDescriptor     = errors.New("overpass: no location type descriptor")
	ErrEmptyCountryCode = errors.New("overpass: empty country code")
	ErrEmptyTagGroup    = errors.New("overpass: tag group without conditions")
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return `"` + quoteEscaper.Replace(s) + `"`
}

// TagFilter is a single equality filter, rendered as ["key"="value"].
type TagFilter struct {
	Key   string
	Value string
}

func (f TagFilter) String() string {
	return "[" + quote(f.Key) + "=" + quote(f.Value) + "]"
}

// AreaScope binds the country area to a named set.
type AreaScope struct {
	ISOCode string
	Set     string
}

func (a AreaScope) String() string {
	return fmt.Sprintf("area[%s=%s]->.%s;", quote(ISOAttribute), quote(a.ISOCode), a.Set)
}

// Statement selects one entity kind matching all filters inside the area set.
type Statement struct {
	Kind    model.ElementKind
	Filters []TagFilter
	Area    string
}

func (s Statement) String() string {
	var b strings.Builder
	b.WriteString(string(s.Kind))
	for _, f := range s.Filters {
		b.WriteString(f.String())
	}
	fmt.Fprintf(&b, "(area.%s);", s.Area)
	return b.String()
}

type Output struct {
	Shape model.OutputShape
}

func (o Output) String() string {
	return fmt.Sprintf("out %s body;", o.Shape)
}

// Query is the assembled set of fragments. Nothing is rendered until String.
type Query struct {
	ServerTimeout int
	Area          AreaScope
	Statements    []Statement
	Output        Output
}

func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", q.ServerTimeout)
	b.WriteString(q.Area.String())
	b.WriteString("\n(\n")
	for _, st := range q.Statements {
		b.WriteString("  ")
		b.WriteString(st.String())
		b.WriteByte('\n')
	}
	b.WriteString(");\n")
	b.WriteString(q.Output.String())
	b.WriteByte('\n')
	return b.String()
}

type Option func(*Builder)

// WithServerTimeout sets the [timeout:N] header in seconds.
func WithServerTimeout(seconds int) Option {
	return func(b *Builder) {
		if seconds > 0 {
			b.serverTimeout = seconds
		}
	}
}

// Builder turns a country code and a descriptor into a Query.
type Builder struct {
	serverTimeout int
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{serverTimeout: DefaultServerTimeout}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Builder) Build(countryCode string, lt *model.LocationType) (Query, error) {
	if lt == nil {
		return Query{}, ErrNoDescriptor
	}
	code := strings.TrimSpace(countryCode)
	if code == "" {
		return Query{}, ErrEmptyCountryCode
	}
	shape, err := model.ParseOutputShape(string(lt.QueryType))
	if err != nil {
		return Query{}, fmt.Errorf("overpass: %w", err)
	}

	q := Query{
		ServerTimeout: b.serverTimeout,
		Area:          AreaScope{ISOCode: code, Set: searchArea},
		Statements:    make([]Statement, 0, len(lt.Tags)*len(model.EntityKinds)),
		Output:        Output{Shape: shape},
	}
	for i, group := range lt.Tags {
		if len(group.Conditions) == 0 {
			return Query{}, fmt.Errorf("%w (group %d of %q)", ErrEmptyTagGroup, i, lt.Key)
		}
		filters := make([]TagFilter, 0, len(group.Conditions))
		for _, c := range group.Conditions {
			filters = append(filters, TagFilter{Key: c.Key, Value: c.Value})
		}
		for _, kind := range model.EntityKinds {
			q.Statements = append(q.Statements, Statement{Kind: kind, Filters: filters, Area: searchArea})
		}
	}
	return q, nil
}

// Render builds and renders the query text.
func (b *Builder) Render(countryCode string, lt *model.LocationType) (string, error) {
	q, err := b.Build(countryCode, lt)
	if err != nil {
		return "", err
	}
	return q.String(), nil
}

// Render uses a default builder.
func Render(countryCode string, lt *model.LocationType) (string, error) {
	return NewBuilder().Render(countryCode, lt)
}
