package ingest

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops combining marks, and recomposes, so
// "João" and "Joao" normalize identically.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText case-folds, strips diacritics, trims, and collapses internal
// whitespace. Every comparison in this package happens on normalized text.
func NormalizeText(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// NormalizeRegistration keeps only letters and digits of a registration
// number, case-folded, so "OAB/SP 123.456" and "oabsp123456" compare equal.
func NormalizeRegistration(s string) string {
	var b strings.Builder
	for _, r := range NormalizeText(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizedRecord is the task-facing shape of a publication record with all
// text fields normalized.
type NormalizedRecord struct {
	Tribunal              string    `json:"tribunal"`
	ProcessNumber         string    `json:"processNumber"`
	CommunicationID       string    `json:"communicationId"`
	RecipientName         string    `json:"recipientName"`
	RecipientRegistration string    `json:"recipientRegistration"`
	Content               string    `json:"content"`
	PublishedAt           time.Time `json:"publishedAt"`
}

// NormalizeRecord normalizes every text field of a raw record.
func NormalizeRecord(r RawRecord) NormalizedRecord {
	return NormalizedRecord{
		Tribunal:              NormalizeText(r.Tribunal),
		ProcessNumber:         strings.TrimSpace(r.ProcessNumber),
		CommunicationID:       strings.TrimSpace(r.CommunicationID),
		RecipientName:         NormalizeText(r.RecipientName),
		RecipientRegistration: NormalizeRegistration(r.RecipientRegistration),
		Content:               NormalizeText(r.Content),
		PublishedAt:           r.PublishedAt,
	}
}
