package entities

import "testing"

// TestParseVersion tests parsing of [epoch:]pkgver[-pkgrel] strings
func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr bool
	}{
		{
			name:  "plain version",
			input: "1.2.3",
			want:  Version{Ver: "1.2.3"},
		},
		{
			name:  "version with release",
			input: "1.2.3-1",
			want:  Version{Ver: "1.2.3", Rel: "1"},
		},
		{
			name:  "version with epoch and release",
			input: "2:0.9-4",
			want:  Version{Epoch: 2, Ver: "0.9", Rel: "4"},
		},
		{
			name:  "decimal release",
			input: "1.0-4.1",
			want:  Version{Ver: "1.0", Rel: "4.1"},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "empty release",
			input:   "1.0-",
			wantErr: true,
		},
		{
			name:    "negative epoch",
			input:   "-1:1.0",
			wantErr: true,
		},
		{
			name:    "non-numeric epoch",
			input:   "a:1.0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

// TestVersionString tests round-tripping versions back to string form
func TestVersionString(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		want    string
	}{
		{
			name:    "plain",
			version: Version{Ver: "1.2.3"},
			want:    "1.2.3",
		},
		{
			name:    "with release",
			version: Version{Ver: "1.2.3", Rel: "2"},
			want:    "1.2.3-2",
		},
		{
			name:    "with epoch",
			version: Version{Epoch: 1, Ver: "20.1", Rel: "1"},
			want:    "1:20.1-1",
		},
		{
			name:    "zero epoch omitted",
			version: Version{Epoch: 0, Ver: "3.0", Rel: "1"},
			want:    "3.0-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.version.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestVerCmp tests package version ordering against known orderings
func TestVerCmp(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		// equal
		{"1.0.2", "1.0.2", 0},
		{"12", "12", 0},
		{"01", "1", 0},
		{"001a", "1a", 0},
		{"1.0-1", "1.0-1", 0},

		// simple numeric ordering
		{"1.0", "1.1", -1},
		{"1.1", "1.0", 1},
		{"4.34", "1.00", 1},
		{"1.0", "1.0.0", -1},
		{"1.5.1", "1.5", 1},
		{"10", "9", 1},

		// alphanumeric segments
		{"1.0a", "1.0b", -1},
		{"1.0a", "1.0", -1},
		{"1.0", "1.0b", 1},
		{"1.5b", "1.5", -1},
		{"1.5b", "1.5.1", -1},
		{"1.a", "1.1", -1},
		{"a", "1", -1},

		// trailing separators outrank bare versions
		{"1.5.b", "1.5", 1},
		{"1.0.", "1.0", 1},

		// epoch dominates everything
		{"1:1.0", "2.0", 1},
		{"1:1.0", "1:1.1", -1},
		{"2:0.1", "1:99.9", 1},
		{"0:1.0", "1.0", 0},

		// release breaks ties only when both sides carry one
		{"1.0-1", "1.0-2", -1},
		{"1.0-2", "1.0-1", 1},
		{"1.0-1", "1.0", 0},
		{"1.0-4.1", "1.0-4", 1},
	}

	for _, tt := range tests {
		got := VerCmp(tt.a, tt.b)
		if got != tt.want {
			t.Errorf("VerCmp(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		// ordering must be antisymmetric
		if rev := VerCmp(tt.b, tt.a); rev != -tt.want {
			t.Errorf("VerCmp(%q, %q) = %d, want %d", tt.b, tt.a, rev, -tt.want)
		}
	}
}

// TestIsValidPkgver tests version component validation
func TestIsValidPkgver(t *testing.T) {
	valid := []string{"1.0", "20210101", "1.2.3_rc1", "5.4+r23", "0.1"}
	for _, v := range valid {
		if !IsValidPkgver(v) {
			t.Errorf("IsValidPkgver(%q) = false, want true", v)
		}
	}

	invalid := []string{"", "1.0-1", "1:2.0", "1.0 beta", "a/b"}
	for _, v := range invalid {
		if IsValidPkgver(v) {
			t.Errorf("IsValidPkgver(%q) = true, want false", v)
		}
	}
}

// TestIsValidPkgrel tests release number validation
func TestIsValidPkgrel(t *testing.T) {
	valid := []string{"1", "10", "4.1"}
	for _, r := range valid {
		if !IsValidPkgrel(r) {
			t.Errorf("IsValidPkgrel(%q) = false, want true", r)
		}
	}

	invalid := []string{"", "1.2.3", "a", "1.", ".1", "-1"}
	for _, r := range invalid {
		if IsValidPkgrel(r) {
			t.Errorf("IsValidPkgrel(%q) = true, want false", r)
		}
	}
}
