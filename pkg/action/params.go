package action

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Param is one key/value pair
type Param struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Params is an ordered flat key/value list. Every action is fully described
// by its name and params, which is what makes provenance replay possible.
type Params []Param

// NewParams builds params from alternating keys and values
func NewParams(kv ...string) Params {
	var p Params
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// Get returns the raw value of key
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Has reports whether key is set
func (p Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Set replaces the value of key or appends it
func (p *Params) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Key: key, Value: value})
}

// SetInt stores an integer value
func (p *Params) SetInt(key string, v int64) {
	p.Set(key, strconv.FormatInt(v, 10))
}

// SetFloat stores a float value
func (p *Params) SetFloat(key string, v float64) {
	p.Set(key, strconv.FormatFloat(v, 'g', -1, 64))
}

// SetBool stores a boolean value
func (p *Params) SetBool(key string, v bool) {
	p.Set(key, strconv.FormatBool(v))
}

// SetStrings stores a list as a comma separated value
func (p *Params) SetStrings(key string, v []string) {
	p.Set(key, strings.Join(v, ","))
}

// Clone returns an independent copy
func (p Params) Clone() Params {
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// GetString returns key or def when unset
func (p Params) GetString(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// RequireString returns key or an error when unset or empty
func (p Params) RequireString(key string) (string, error) {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidParam, key)
	}
	return v, nil
}

// GetInt returns key parsed as an integer, or def when unset
func (p Params) GetInt(key string, def int64) (int64, error) {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParam, key, v)
	}
	return n, nil
}

// GetFloat returns key parsed as a float, or def when unset
func (p Params) GetFloat(key string, def float64) (float64, error) {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidParam, key, v)
	}
	return f, nil
}

// GetBool returns key parsed as a boolean, or def when unset
func (p Params) GetBool(key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidParam, key, v)
	}
	return b, nil
}

// GetStrings returns key split on commas. Brackets around the list are allowed.
func (p Params) GetStrings(key string) []string {
	v, ok := p.Get(key)
	if !ok {
		return nil
	}
	v = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(v), "["), "]")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// String exports the params as space separated key='value' pairs
func (p Params) String() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv.Key)
		b.WriteString("='")
		for _, r := range kv.Value {
			if r == '\'' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('\'')
	}
	return b.String()
}

// ParseParams reads the output of Params.String. Values may also be bare
// tokens without quotes.
func ParseParams(s string) (Params, error) {
	var p Params
	rs := []rune(s)
	i := 0
	skipSpace := func() {
		for i < len(rs) && unicode.IsSpace(rs[i]) {
			i++
		}
	}

	for {
		skipSpace()
		if i >= len(rs) {
			return p, nil
		}

		start := i
		for i < len(rs) && rs[i] != '=' && !unicode.IsSpace(rs[i]) {
			i++
		}
		key := string(rs[start:i])
		if key == "" || i >= len(rs) || rs[i] != '=' {
			return nil, fmt.Errorf("%w: expected key=value at offset %d", ErrInvalidParam, start)
		}
		i++ // '='

		var value strings.Builder
		if i < len(rs) && (rs[i] == '\'' || rs[i] == '"') {
			quote := rs[i]
			i++
			closed := false
			for i < len(rs) {
				r := rs[i]
				if r == '\\' && i+1 < len(rs) {
					value.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if r == quote {
					i++
					closed = true
					break
				}
				value.WriteRune(r)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated value for %q", ErrInvalidParam, key)
			}
		} else {
			for i < len(rs) && !unicode.IsSpace(rs[i]) {
				value.WriteRune(rs[i])
				i++
			}
		}
		p.Set(key, value.String())
	}
}
