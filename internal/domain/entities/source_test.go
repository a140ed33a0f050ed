package entities

import "testing"

// TestParseSource tests source entry parsing
func TestParseSource(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Source
		wantErr bool
	}{
		{
			name:  "https archive",
			input: "https://example.com/dist/tool-1.0.tar.gz",
			want: Source{
				Raw:      "https://example.com/dist/tool-1.0.tar.gz",
				Location: "https://example.com/dist/tool-1.0.tar.gz",
				Protocol: ProtocolHTTP,
			},
		},
		{
			name:  "renamed download",
			input: "tool-1.0.tar.gz::https://example.com/archive/v1.0.tar.gz",
			want: Source{
				Raw:      "tool-1.0.tar.gz::https://example.com/archive/v1.0.tar.gz",
				Folder:   "tool-1.0.tar.gz",
				Location: "https://example.com/archive/v1.0.tar.gz",
				Protocol: ProtocolHTTP,
			},
		},
		{
			name:  "git with tag",
			input: "git+https://example.com/user/tool.git#tag=v2.1",
			want: Source{
				Raw:      "git+https://example.com/user/tool.git#tag=v2.1",
				Location: "https://example.com/user/tool.git",
				Protocol: ProtocolGit,
				Ref:      &VCSRef{Kind: "tag", Value: "v2.1"},
			},
		},
		{
			name:  "git with commit",
			input: "git+https://example.com/user/tool.git#commit=abc123",
			want: Source{
				Raw:      "git+https://example.com/user/tool.git#commit=abc123",
				Location: "https://example.com/user/tool.git",
				Protocol: ProtocolGit,
				Ref:      &VCSRef{Kind: "commit", Value: "abc123"},
			},
		},
		{
			name:  "local file",
			input: "tool.sysusers",
			want: Source{
				Raw:      "tool.sysusers",
				Location: "tool.sysusers",
				Protocol: ProtocolLocal,
			},
		},
		{
			name:    "empty entry",
			input:   "",
			wantErr: true,
		},
		{
			name:    "empty folder override",
			input:   "::https://example.com/a.tar.gz",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			input:   "svn://example.com/repo",
			wantErr: true,
		},
		{
			name:    "fragment on plain download",
			input:   "https://example.com/a.tar.gz#tag=v1",
			wantErr: true,
		},
		{
			name:    "malformed fragment",
			input:   "git+https://example.com/r.git#tag",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSource(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Raw != tt.want.Raw || got.Folder != tt.want.Folder ||
				got.Location != tt.want.Location || got.Protocol != tt.want.Protocol {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if (got.Ref == nil) != (tt.want.Ref == nil) {
				t.Fatalf("ParseSource(%q) ref = %v, want %v", tt.input, got.Ref, tt.want.Ref)
			}
			if got.Ref != nil && *got.Ref != *tt.want.Ref {
				t.Errorf("ParseSource(%q) ref = %+v, want %+v", tt.input, *got.Ref, *tt.want.Ref)
			}
		})
	}
}

// TestSourceFilename tests local filename resolution for source entries
func TestSourceFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"archive basename", "https://example.com/dist/tool-1.0.tar.gz", "tool-1.0.tar.gz"},
		{"folder override wins", "renamed.tar.gz::https://example.com/v1.0.tar.gz", "renamed.tar.gz"},
		{"git strips dot git", "git+https://example.com/user/tool.git", "tool"},
		{"git folder override", "mytool::git+https://example.com/user/tool.git#branch=dev", "mytool"},
		{"local file", "tool.service", "tool.service"},
		{"url with query", "https://example.com/download?file=x.tar.gz", "download"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSource(tt.input)
			if err != nil {
				t.Fatalf("ParseSource(%q) error = %v", tt.input, err)
			}
			if got := s.Filename(); got != tt.want {
				t.Errorf("Filename() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestSourceSignatureCompanion tests signature entry detection
func TestSourceSignatureCompanion(t *testing.T) {
	sig, err := ParseSource("https://example.com/tool-1.0.tar.gz.sig")
	if err != nil {
		t.Fatalf("ParseSource() error = %v", err)
	}
	if !sig.IsSignature() {
		t.Error("IsSignature() = false for .sig entry, want true")
	}
	signed, ok := sig.SignedFilename()
	if !ok || signed != "tool-1.0.tar.gz" {
		t.Errorf("SignedFilename() = %q, %v, want %q, true", signed, ok, "tool-1.0.tar.gz")
	}

	plain, err := ParseSource("https://example.com/tool-1.0.tar.gz")
	if err != nil {
		t.Fatalf("ParseSource() error = %v", err)
	}
	if plain.IsSignature() {
		t.Error("IsSignature() = true for archive entry, want false")
	}
}
