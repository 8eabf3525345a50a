package model

// Payload is the metadata stored alongside a vector.
type Payload map[string]any

// String returns the string value of key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Point is one vector with its identifier and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a query hit. Higher Score means more similar.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter selects points whose payload field Key equals any of Any.
// A filter with a single value is an equality match.
type Filter struct {
	Key string
	Any []string
}

// Match reports whether the payload satisfies the filter. A nil filter matches everything.
func (f *Filter) Match(p Payload) bool {
	if f == nil {
		return true
	}
	v := p.String(f.Key)
	for _, want := range f.Any {
		if v == want {
			return true
		}
	}
	return false
}
