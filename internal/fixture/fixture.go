// Package fixture holds immutable document datasets imported into test
// instances.
package fixture

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/timestamp"
)

// ErrInvalidDataset is returned for datasets that cannot be imported anywhere.
var ErrInvalidDataset = errors.New("invalid fixture dataset")

// Dataset is a named set of documents destined for one index. It is never
// mutated after construction, so one value can be imported into many
// instances concurrently.
type Dataset struct {
	name  string
	index string
	docs  []model.Document
}

// New validates docs and returns a dataset holding private copies of them.
// Documents without an id get DocumentID.
func New(name, index string, docs []model.Document) (*Dataset, error) {
	if index == "" {
		return nil, fmt.Errorf("%w: %s: index required", ErrInvalidDataset, name)
	}
	out := make([]model.Document, len(docs))
	for i, d := range docs {
		if d.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: %s: document %d has no timestamp", ErrInvalidDataset, name, i)
		}
		d = d.Clone()
		d.Timestamp = d.Timestamp.UTC()
		if d.ID == "" {
			d.ID = DocumentID(index, d)
		}
		out[i] = d
	}
	return &Dataset{name: name, index: index, docs: out}, nil
}

// MustNew is New for package-level fixtures; it panics on error.
func MustNew(name, index string, docs []model.Document) *Dataset {
	ds, err := New(name, index, docs)
	if err != nil {
		panic(err)
	}
	return ds
}

// DocumentID derives a stable id from the document content so that
// re-importing the same dataset overwrites rather than duplicates.
func DocumentID(index string, d model.Document) string {
	h := sha1.New()
	fields, _ := json.Marshal(d.Fields)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", index, d.Timestamp.UTC().Format(time.RFC3339Nano), d.Message, fields)
	return hex.EncodeToString(h.Sum(nil))[:20]
}

func (d *Dataset) Name() string  { return d.name }
func (d *Dataset) Index() string { return d.index }
func (d *Dataset) Len() int      { return len(d.docs) }

// Documents returns deep copies of the documents.
func (d *Dataset) Documents() []model.Document {
	out := make([]model.Document, len(d.docs))
	for i, doc := range d.docs {
		out[i] = doc.Clone()
	}
	return out
}

// WithIndex returns a copy of the dataset bound to another index. Derived
// ids are recomputed for the new index.
func (d *Dataset) WithIndex(index string) (*Dataset, error) {
	docs := d.Documents()
	for i := range docs {
		if docs[i].ID == DocumentID(d.index, docs[i]) {
			docs[i].ID = ""
		}
	}
	return New(d.name, index, docs)
}

type rawDataset struct {
	Name      string        `yaml:"name"`
	Index     string        `yaml:"index"`
	Documents []rawDocument `yaml:"documents"`
}

type rawDocument struct {
	ID        string         `yaml:"id"`
	Timestamp any            `yaml:"timestamp"`
	Message   string         `yaml:"message"`
	Fields    map[string]any `yaml:"fields"`
}

// Load reads a YAML or JSON dataset. Relative timestamps such as "now-5m"
// resolve against now.
func Load(r io.Reader, now time.Time) (*Dataset, error) {
	var raw rawDataset
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidDataset, err)
	}

	parser := timestamp.NewParser(now)
	docs := make([]model.Document, len(raw.Documents))
	for i, rd := range raw.Documents {
		ts, ok := parser.ParseTimestamp(rd.Timestamp)
		if !ok {
			return nil, fmt.Errorf("%w: %s: document %d: unparseable timestamp %v", ErrInvalidDataset, raw.Name, i, rd.Timestamp)
		}
		docs[i] = model.Document{ID: rd.ID, Timestamp: ts, Message: rd.Message, Fields: rd.Fields}
	}
	return New(raw.Name, raw.Index, docs)
}

// LoadFile is Load for a file on disk.
func LoadFile(path string, now time.Time) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, now)
}
