package jobdefs

import (
	"strings"
	"testing"
)

func specDef() Definition {
	return Definition{
		Name:    "test-report",
		Command: "/bin/true",
		Args: []ArgSpec{
			{Name: "start-date", Type: ArgDate, Required: true},
			{Name: "doc-type", Type: ArgEnum, Enum: []string{"Summary", "Media"}},
			{Name: "max-docs", Type: ArgInt, Min: 1, Max: 500},
			{Name: "cc", Type: ArgEmailList},
			{Name: "doc-id", Type: ArgDocID},
			{Name: "comment", Type: ArgText},
		},
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr string
	}{
		{
			name: "all valid",
			values: map[string]string{
				"start-date": "2025-03-01",
				"doc-type":   "Summary",
				"max-docs":   "100",
				"cc":         "alice@example.org bob@example.org",
				"doc-id":     "CDR0000012345",
				"comment":    "weekly run",
			},
		},
		{
			name:    "missing required",
			values:  map[string]string{"doc-type": "Summary"},
			wantErr: `"start-date" is required`,
		},
		{
			name:    "bad date",
			values:  map[string]string{"start-date": "03/01/2025"},
			wantErr: "YYYY-MM-DD",
		},
		{
			name:    "enum miss",
			values:  map[string]string{"start-date": "2025-03-01", "doc-type": "Protocol"},
			wantErr: "is not one of",
		},
		{
			name:    "int out of range",
			values:  map[string]string{"start-date": "2025-03-01", "max-docs": "9000"},
			wantErr: "exceeds maximum",
		},
		{
			name:    "int below minimum",
			values:  map[string]string{"start-date": "2025-03-01", "max-docs": "0"},
			wantErr: "below minimum",
		},
		{
			name:    "bad email",
			values:  map[string]string{"start-date": "2025-03-01", "cc": "not-an-address"},
			wantErr: "invalid email address",
		},
		{
			name:    "bad doc id",
			values:  map[string]string{"start-date": "2025-03-01", "doc-id": "XYZ123"},
			wantErr: "not a document id",
		},
		{
			name:    "undeclared argument",
			values:  map[string]string{"start-date": "2025-03-01", "rm-rf": "yes"},
			wantErr: `unknown argument "rm-rf"`,
		},
	}

	def := specDef()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := def.ValidateArgs(tt.values)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateArgs failed: %v", err)
				}
				if len(args) != len(tt.values) {
					t.Errorf("got %d args, want %d", len(args), len(tt.values))
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateArgs should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgs_DocIDCanonicalization(t *testing.T) {
	def := specDef()
	args, err := def.ValidateArgs(map[string]string{
		"start-date": "2025-03-01",
		"doc-id":     "CDR0000012345",
	})
	if err != nil {
		t.Fatalf("ValidateArgs failed: %v", err)
	}
	for _, a := range args {
		if a.Name == "doc-id" && a.Value != "12345" {
			t.Errorf("doc-id canonical form = %q, want 12345", a.Value)
		}
	}
}

func TestParseEmailList(t *testing.T) {
	addrs, err := ParseEmailList("alice@example.org  bob@example.org")
	if err != nil {
		t.Fatalf("ParseEmailList failed: %v", err)
	}
	if len(addrs) != 2 {
		t.Errorf("got %d addresses, want 2", len(addrs))
	}

	if _, err := ParseEmailList("   "); err == nil {
		t.Error("empty list should fail")
	}
	if _, err := ParseEmailList("alice@example.org nope"); err == nil {
		t.Error("invalid member should fail")
	}
}
