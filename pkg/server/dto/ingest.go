package dto

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/strata"
)

// IngestResponse wraps the ingestion result
type IngestResponse struct {
	Success bool                 `json:"success"`
	Result  *strata.IngestResult `json:"result,omitempty"`
	// Repaired is set when the payload was malformed JSON that had to be repaired.
	Repaired bool `json:"repaired,omitempty"`
}

// DecodeIngestRequest decodes an extraction payload. A payload that fails to
// parse is repaired once before it is rejected; the bool reports a repair.
func DecodeIngestRequest(body []byte) (strata.IngestRequest, bool, error) {
	var req strata.IngestRequest
	err := json.Unmarshal(body, &req)
	if err == nil {
		return req, false, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(body))
	if repairErr != nil {
		return req, false, fmt.Errorf("malformed payload: %w", err)
	}
	req = strata.IngestRequest{}
	if err := json.Unmarshal([]byte(repaired), &req); err != nil {
		return req, false, fmt.Errorf("malformed payload: %w", err)
	}
	return req, true, nil
}

// ValidateIngestRequest checks the payload limits the engine does not.
func ValidateIngestRequest(req *strata.IngestRequest) error {
	if err := ValidateTenantID(req.TenantID); err != nil {
		return err
	}
	if len(req.Entities) > MaxEntities {
		return fmt.Errorf("entities count exceeds maximum (%d)", MaxEntities)
	}
	if len(req.Relationships) > MaxEntities {
		return fmt.Errorf("relationships count exceeds maximum (%d)", MaxEntities)
	}
	return nil
}
