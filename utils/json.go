package utils

import (
	"bytes"
	"encoding/json"
)

// IsJsonObject reports whether data is a syntactically valid JSON document
// whose top-level value is an object. Arrays, primitives and null are
// rejected.
//
// Parameters:
//   - data: The raw bytes to validate
//
// Returns:
//   - true if data holds a single JSON object, false otherwise
func IsJsonObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	return json.Valid(trimmed)
}
