package ingest

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Maria SILVA", "maria silva"},
		{"strips diacritics", "João Conceição", "joao conceicao"},
		{"collapses whitespace", "  ana \t beatriz\n costa ", "ana beatriz costa"},
		{"combined", "  JOÃO   da\tSILVA ", "joao da silva"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Fatalf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeRegistration(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OAB/SP 123.456", "oabsp123456"},
		{"oabsp123456", "oabsp123456"},
		{"OAB-SP  98.765", "oabsp98765"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeRegistration(tt.in); got != tt.want {
			t.Fatalf("NormalizeRegistration(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeRecord(t *testing.T) {
	raw := RawRecord{
		Tribunal:              "TJSP ",
		ProcessNumber:         " 1002345-67.2026.8.26.0100 ",
		CommunicationID:       " c-42 ",
		RecipientName:         "JOÃO da Silva",
		RecipientRegistration: "OAB/SP 123.456",
		Content:               "Intimação  do advogado JOÃO DA SILVA",
	}
	rec := NormalizeRecord(raw)

	if rec.Tribunal != "tjsp" {
		t.Fatalf("Tribunal = %q", rec.Tribunal)
	}
	if rec.ProcessNumber != "1002345-67.2026.8.26.0100" {
		t.Fatalf("ProcessNumber = %q", rec.ProcessNumber)
	}
	if rec.CommunicationID != "c-42" {
		t.Fatalf("CommunicationID = %q", rec.CommunicationID)
	}
	if rec.RecipientName != "joao da silva" {
		t.Fatalf("RecipientName = %q", rec.RecipientName)
	}
	if rec.RecipientRegistration != "oabsp123456" {
		t.Fatalf("RecipientRegistration = %q", rec.RecipientRegistration)
	}
	if rec.Content != "intimacao do advogado joao da silva" {
		t.Fatalf("Content = %q", rec.Content)
	}
}
