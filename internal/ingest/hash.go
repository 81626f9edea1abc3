package ingest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// hashFields is the canonical identifying tuple of a publication record.
// Fields must already be normalized so that re-deliveries with cosmetic
// differences (accents, case, spacing) hash identically.
type hashFields struct {
	Tribunal        string `json:"tribunal"`
	ProcessNumber   string `json:"process_number"`
	CommunicationID string `json:"communication_id"`
	Recipient       string `json:"recipient"`
	Registration    string `json:"registration"`
}

// ContentHash computes the stable dedup digest of a normalized record for a
// given recipient identity.
func ContentHash(rec NormalizedRecord, id Identity) string {
	fields := hashFields{
		Tribunal:        rec.Tribunal,
		ProcessNumber:   rec.ProcessNumber,
		CommunicationID: rec.CommunicationID,
		Recipient:       NormalizeText(id.Name),
		Registration:    NormalizeRegistration(id.Registration),
	}
	raw, _ := json.Marshal(fields)
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%x", h[:16])
}
