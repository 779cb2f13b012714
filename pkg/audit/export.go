package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NDJSONContentType is the content type of archived exports
const NDJSONContentType = "application/x-ndjson"

// ExportNDJSON encodes events as newline-delimited JSON
func ExportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", event.ID, err)
		}
	}

	return buf.Bytes(), nil
}
