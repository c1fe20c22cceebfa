package errors

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorDetail is the client-facing rendering of an error: the first hint, the
// error kind and any reportable details. Underlying storage errors never
// appear here.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Display string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func ToDetail(err error) ErrorDetail {
	return ErrorDetail{
		Code:    Kind(err),
		Display: DisplayMessage(err),
		Details: SafeDetails(err),
	}
}

func DisplayMessage(err error) string {
	for _, hint := range errors.GetAllHints(err) {
		if hint = strings.TrimSpace(hint); hint != "" {
			return hint
		}
	}
	return "An unexpected error occurred"
}

func SafeDetails(err error) map[string]any {
	details := make(map[string]any)

	for _, sdp := range errors.GetAllSafeDetails(err) {
		for _, payload := range sdp.SafeDetails {
			if !strings.HasPrefix(payload, "__json__:") {
				continue
			}
			var jsonDetails map[string]any
			if err := json.Unmarshal([]byte(payload[len("__json__:"):]), &jsonDetails); err == nil {
				for k, v := range jsonDetails {
					details[k] = v
				}
			}
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}
