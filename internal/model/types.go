package model

import "time"

// Document is a single log document as stored by every backend.
// It is the canonical type for fixtures, bulk transport and engine storage.
type Document struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Message   string         `json:"message,omitempty" yaml:"message,omitempty"`
	Fields    map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Clone returns a deep copy so callers can never mutate shared fixture data.
func (d Document) Clone() Document {
	out := d
	if d.Fields != nil {
		out.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Field returns a document field, treating "message" and "timestamp" as
// built-in fields.
func (d Document) Field(name string) (any, bool) {
	switch name {
	case "message":
		return d.Message, d.Message != ""
	case "timestamp":
		return d.Timestamp, !d.Timestamp.IsZero()
	}
	v, ok := d.Fields[name]
	return v, ok && v != nil
}

// ClusterHealth is the readiness payload every backend node serves.
type ClusterHealth struct {
	Status        string      `json:"status"`
	ClusterName   string      `json:"cluster_name"`
	NumberOfNodes int         `json:"number_of_nodes"`
	Docs          int64       `json:"docs"`
	Version       NodeVersion `json:"version"`
}

// NodeVersion is the backend product and version a node advertises.
type NodeVersion struct {
	Distribution string `json:"distribution"`
	Number       string `json:"number"`
}

// Health statuses. Only HealthGreen counts as ready.
const (
	HealthGreen  = "green"
	HealthYellow = "yellow"
	HealthRed    = "red"
)
