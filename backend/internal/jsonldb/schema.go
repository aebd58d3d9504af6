// Schema header written as the first line of every table file.

package jsonldb

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaVersion is bumped when the on-disk layout changes.
const schemaVersion = "1"

type header struct {
	Version string             `json:"version"`
	Schema  *jsonschema.Schema `json:"schema"`
}

func schemaHeader[T any]() ([]byte, error) {
	var zero T
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	h := header{Version: schemaVersion, Schema: r.Reflect(zero)}
	data, err := json.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema header: %w", err)
	}
	return data, nil
}

// isSchemaHeader reports whether line is a header rather than a row.
func isSchemaHeader(line []byte) bool {
	var header struct {
		Version string          `json:"version"`
		Schema  json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return false
	}
	return header.Version != "" && len(header.Schema) != 0
}
