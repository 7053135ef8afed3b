package store

import (
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

// marshalFields converts Fields to canonical JSON TEXT for storage.
// Canonical encoding keeps stored rows byte-stable across runs.
func marshalFields(fields ir.Fields) (string, error) {
	if fields == nil {
		fields = ir.Fields{}
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses stored JSON TEXT back into Fields.
// Integers round-trip exactly; ParseFields decodes numbers via json.Number.
func unmarshalFields(data string) (ir.Fields, error) {
	if data == "" || data == "{}" {
		return ir.Fields{}, nil
	}
	fields, err := ir.ParseFields([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}
