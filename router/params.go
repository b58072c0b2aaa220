package router

import (
	"net/url"
	"sort"
	"strconv"
)

// URLParam is a typed value captured from a route variable.
type URLParam struct {
	Kind PartKind
	i    int64
	f    float64
	s    string
}

func IntParam(v int64) URLParam     { return URLParam{Kind: IntPart, i: v} }
func FloatParam(v float64) URLParam { return URLParam{Kind: FloatPart, f: v} }
func StringParam(v string) URLParam { return URLParam{Kind: StringPart, s: v} }

// AsInt returns the value of an int param.
func (p URLParam) AsInt() (int64, bool) {
	return p.i, p.Kind == IntPart
}

// AsFloat returns the value of a float param. Int params convert.
func (p URLParam) AsFloat() (float64, bool) {
	switch p.Kind {
	case FloatPart:
		return p.f, true
	case IntPart:
		return float64(p.i), true
	}
	return 0, false
}

// AsString returns the value of a string param.
func (p URLParam) AsString() (string, bool) {
	return p.s, p.Kind == StringPart
}

// String formats the param regardless of its kind.
func (p URLParam) String() string {
	switch p.Kind {
	case IntPart:
		return strconv.FormatInt(p.i, 10)
	case FloatPart:
		return strconv.FormatFloat(p.f, 'g', -1, 64)
	}
	return p.s
}

// URLParams holds the route variables of a matched request, keyed by the
// names declared in the route pattern. The zero value is ready to use.
type URLParams struct {
	names  []string
	values map[string]URLParam
}

// Add stores a param, replacing any previous value under the same name.
func (u *URLParams) Add(name string, p URLParam) {
	if u.values == nil {
		u.values = make(map[string]URLParam)
	}
	if _, ok := u.values[name]; !ok {
		u.names = append(u.names, name)
	}
	u.values[name] = p
}

// Get returns the param stored under name.
func (u URLParams) Get(name string) (URLParam, bool) {
	p, ok := u.values[name]
	return p, ok
}

// Int returns the named int param.
func (u URLParams) Int(name string) (int64, bool) {
	p, ok := u.values[name]
	if !ok {
		return 0, false
	}
	return p.AsInt()
}

// Float returns the named float param.
func (u URLParams) Float(name string) (float64, bool) {
	p, ok := u.values[name]
	if !ok {
		return 0, false
	}
	return p.AsFloat()
}

// String returns the named string param.
func (u URLParams) String(name string) (string, bool) {
	p, ok := u.values[name]
	if !ok {
		return "", false
	}
	return p.AsString()
}

// Value formats the named param of any kind, "" when missing.
func (u URLParams) Value(name string) string {
	if p, ok := u.values[name]; ok {
		return p.String()
	}
	return ""
}

func (u URLParams) Len() int { return len(u.names) }

// Names returns the param names in route order.
func (u URLParams) Names() []string {
	out := make([]string, len(u.names))
	copy(out, u.names)
	return out
}

// VerbParams are the untyped, possibly repeated parameters of a request:
// the query string for GET and the decoded body for POST.
type VerbParams struct {
	values url.Values
}

// NewVerbParams wraps v. The map is copied.
func NewVerbParams(v url.Values) VerbParams {
	vp := VerbParams{values: make(url.Values, len(v))}
	for k, vals := range v {
		vp.values[k] = append([]string(nil), vals...)
	}
	return vp
}

// Get returns the first value for key.
func (p VerbParams) Get(key string) string {
	return p.values.Get(key)
}

// All returns every value for key.
func (p VerbParams) All(key string) []string {
	return p.values[key]
}

func (p VerbParams) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Set replaces the values of key.
func (p *VerbParams) Set(key, value string) {
	if p.values == nil {
		p.values = make(url.Values)
	}
	p.values.Set(key, value)
}

// Add appends a value to key.
func (p *VerbParams) Add(key, value string) {
	if p.values == nil {
		p.values = make(url.Values)
	}
	p.values.Add(key, value)
}

// Keys returns the parameter names, sorted.
func (p VerbParams) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p VerbParams) Len() int { return len(p.values) }

// Values returns a copy of the underlying values.
func (p VerbParams) Values() url.Values {
	return NewVerbParams(p.values).values
}
