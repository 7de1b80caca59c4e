package jobdefs

import (
	"strings"
	"testing"
	"time"
)

const sampleManifest = `
jobs:
  - name: url-check
    command: /usr/local/cdr/bin/url-check
    class: report
    class_limit: 3
    timeout: 2h
    args:
      - name: doc-type
        type: enum
        enum: [Summary, GlossaryTermName, Media]
      - name: start-date
        type: date
        required: true
  - name: publish-preview
    command: /usr/local/cdr/bin/publish-preview
    class: publish-output
    capability: OPERATE_BATCH_JOBS
    needs_approval: true
    args:
      - name: doc-id
        type: doc_id
        required: true
  - name: quick-count
    command: /usr/local/cdr/bin/quick-count
    inline: true
`

func mustParse(t *testing.T, data string) *Registry {
	t.Helper()
	r, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return r
}

func TestParse_Manifest(t *testing.T) {
	r := mustParse(t, sampleManifest)

	def, ok := r.Get("url-check")
	if !ok {
		t.Fatal("url-check not found")
	}
	if def.Command != "/usr/local/cdr/bin/url-check" {
		t.Errorf("Command = %q", def.Command)
	}
	if def.Timeout != 2*time.Hour {
		t.Errorf("Timeout = %s, want 2h", def.Timeout)
	}
	if def.ClassLimit != 3 {
		t.Errorf("ClassLimit = %d, want 3", def.ClassLimit)
	}

	pp, _ := r.Get("publish-preview")
	if !pp.NeedsApproval {
		t.Error("publish-preview should need approval")
	}
	if pp.Class != "publish-output" {
		t.Errorf("Class = %q", pp.Class)
	}
	if pp.ClassLimit != 1 {
		t.Errorf("ClassLimit should default to 1, got %d", pp.ClassLimit)
	}

	if names := r.Names(); len(names) != 3 || names[0] != "url-check" {
		t.Errorf("Names() = %v", names)
	}
}

func TestParse_ClassLimits(t *testing.T) {
	r := mustParse(t, sampleManifest)
	limits := r.ClassLimits()
	if limits["report"] != 3 {
		t.Errorf("report limit = %d, want 3", limits["report"])
	}
	if limits["publish-output"] != 1 {
		t.Errorf("publish-output limit = %d, want 1", limits["publish-output"])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "empty",
			manifest: "jobs: []",
			wantErr:  "no jobs",
		},
		{
			name: "missing command",
			manifest: `
jobs:
  - name: broken
`,
			wantErr: "command is required",
		},
		{
			name: "duplicate name",
			manifest: `
jobs:
  - name: twice
    command: /bin/true
  - name: twice
    command: /bin/true
`,
			wantErr: "duplicate job name",
		},
		{
			name: "enum without values",
			manifest: `
jobs:
  - name: bad-enum
    command: /bin/true
    args:
      - name: mode
        type: enum
`,
			wantErr: "enum type requires values",
		},
		{
			name: "unknown arg type",
			manifest: `
jobs:
  - name: bad-type
    command: /bin/true
    args:
      - name: x
        type: float
`,
			wantErr: "unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest))
			if err == nil {
				t.Fatal("Parse should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
