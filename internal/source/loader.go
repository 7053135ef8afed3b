package source

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/ir"
)

// File is the YAML layout of a collection file.
//
//	replica_id: sales
//	instance_id: sales@host-a
//	as_of: 2024-05-01T12:00:00Z
//	documents:
//	  - identity: A
//	    sequence: 1
//	    sequence_time: 2024-05-01T09:00:00Z
//	    fields: {form: Memo, subject: hello}
//	    body: "..."
type File struct {
	ReplicaID  string `yaml:"replica_id"`
	InstanceID string `yaml:"instance_id"`

	// AsOf pins the collection clock. When empty the wall clock is used.
	AsOf time.Time `yaml:"as_of,omitempty"`

	Documents []FileDocument `yaml:"documents"`
}

// FileDocument is one entry of a collection file.
type FileDocument struct {
	Identity     string         `yaml:"identity"`
	Sequence     uint64         `yaml:"sequence"`
	SequenceTime time.Time      `yaml:"sequence_time"`
	Modified     time.Time      `yaml:"modified,omitempty"`
	Deleted      bool           `yaml:"deleted,omitempty"`
	Fields       map[string]any `yaml:"fields,omitempty"`
	Body         string         `yaml:"body,omitempty"`
}

// LoadFile reads a collection file.
func LoadFile(path string, opts ...Option) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection file: %w", err)
	}
	c, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a collection from YAML. Unknown keys are rejected.
func Parse(data []byte, opts ...Option) (*Collection, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return f.Build(opts...)
}

// Build validates the file and constructs the collection.
// Options are applied after the as_of clock, so WithClock overrides it.
func (f *File) Build(opts ...Option) (*Collection, error) {
	if f.ReplicaID == "" {
		return nil, fmt.Errorf("replica_id is required")
	}
	instance := f.InstanceID
	if instance == "" {
		instance = f.ReplicaID
	}

	var all []Option
	if !f.AsOf.IsZero() {
		all = append(all, WithClock(FixedClock(f.AsOf.UTC())))
	}
	all = append(all, opts...)
	c := NewCollection(f.ReplicaID, instance, all...)

	seen := make(map[string]bool, len(f.Documents))
	for i, fd := range f.Documents {
		if seen[fd.Identity] {
			return nil, fmt.Errorf("documents[%d]: duplicate identity %q", i, fd.Identity)
		}
		seen[fd.Identity] = true

		fields, err := ir.FieldsFromMap(fd.Fields)
		if err != nil {
			return nil, fmt.Errorf("documents[%d] %s: %w", i, fd.Identity, err)
		}
		doc := Document{
			Identity:     fd.Identity,
			Sequence:     fd.Sequence,
			SequenceTime: fd.SequenceTime.UTC(),
			Modified:     fd.Modified.UTC(),
			Fields:       fields,
			Deleted:      fd.Deleted,
		}
		if fd.Body != "" {
			doc.Body = []byte(fd.Body)
		}
		if err := c.Import(doc); err != nil {
			return nil, fmt.Errorf("documents[%d]: %w", i, err)
		}
	}
	return c, nil
}
