package services

import (
	"strings"
	"testing"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

func dbEntry(name, version, arch string) entities.RepoEntry {
	return entities.RepoEntry{
		FileName: name + "-" + version + "-" + arch + ".pkg.tar.zst",
		Name:     name,
		Base:     name,
		Version:  version,
		Arch:     arch,
	}
}

func TestRepoService_Verify(t *testing.T) {
	tests := []struct {
		name          string
		pkg           *entities.Package
		entries       []entities.RepoEntry
		wantStatus    RepoStatus
		wantReady     bool
		wantInSummary string
	}{
		{
			name: "in sync - ready",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"x86_64"},
			},
			entries:    []entities.RepoEntry{dbEntry("tool", "1.0-1", "x86_64")},
			wantStatus: RepoReady,
			wantReady:  true,
		},
		{
			name: "absent from database",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"x86_64"},
			},
			entries:       nil,
			wantStatus:    RepoMissing,
			wantInSummary: "not in database",
		},
		{
			name: "database behind the manifest",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.1", Rel: "1"},
				Arch:    []string{"x86_64"},
			},
			entries:       []entities.RepoEntry{dbEntry("tool", "1.0-1", "x86_64")},
			wantStatus:    RepoVersionDrift,
			wantInSummary: "database is older",
		},
		{
			name: "database ahead of the manifest",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"x86_64"},
			},
			entries:       []entities.RepoEntry{dbEntry("tool", "1.1-1", "x86_64")},
			wantStatus:    RepoVersionDrift,
			wantInSummary: "database is newer",
		},
		{
			name: "manifest moved to any but database still per-arch",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"any"},
			},
			entries:       []entities.RepoEntry{dbEntry("tool", "1.0-1", "x86_64")},
			wantStatus:    RepoUnexpected,
			wantInSummary: "unexpected architectures",
		},
		{
			name: "split member not yet added",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool", "tool-docs"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"x86_64"},
			},
			entries:       []entities.RepoEntry{dbEntry("tool", "1.0-1", "x86_64")},
			wantStatus:    RepoMissing,
			wantInSummary: "missing packages: tool-docs",
		},
		{
			name: "multi-arch coverage complete",
			pkg: &entities.Package{
				Base:    "tool",
				Names:   []string{"tool"},
				Version: entities.Version{Ver: "1.0", Rel: "1"},
				Arch:    []string{"x86_64", "aarch64"},
			},
			entries: []entities.RepoEntry{
				dbEntry("tool", "1.0-1", "x86_64"),
				dbEntry("tool", "1.0-1", "aarch64"),
			},
			wantStatus: RepoReady,
			wantReady:  true,
		},
	}

	svc := NewRepoService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validation := svc.Verify(tt.pkg, tt.entries)

			if validation.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", validation.Status, tt.wantStatus)
			}
			if validation.IsReady() != tt.wantReady {
				t.Errorf("IsReady() = %v, want %v", validation.IsReady(), tt.wantReady)
			}
			if tt.wantInSummary != "" && !strings.Contains(validation.Summary(), tt.wantInSummary) {
				t.Errorf("Summary() = %q, want it to mention %q", validation.Summary(), tt.wantInSummary)
			}
		})
	}
}

func TestRepoService_Add(t *testing.T) {
	svc := NewRepoService()

	entries, outcome := svc.Add(nil, dbEntry("tool", "1.0-1", "x86_64"))
	if outcome != AddInserted || len(entries) != 1 {
		t.Fatalf("first add = %v with %d entries, want inserted with 1", outcome, len(entries))
	}

	entries, outcome = svc.Add(entries, dbEntry("tool", "1.1-1", "x86_64"))
	if outcome != AddReplaced || len(entries) != 1 {
		t.Fatalf("upgrade add = %v with %d entries, want replaced with 1", outcome, len(entries))
	}
	if entries[0].Version != "1.1-1" {
		t.Errorf("Version = %q, want 1.1-1", entries[0].Version)
	}

	entries, outcome = svc.Add(entries, dbEntry("tool", "1.0-1", "x86_64"))
	if outcome != AddSkippedNewer {
		t.Errorf("downgrade add = %v, want skipped-newer", outcome)
	}
	if entries[0].Version != "1.1-1" {
		t.Errorf("Version after skipped add = %q, want 1.1-1 untouched", entries[0].Version)
	}

	entries, outcome = svc.Add(entries, dbEntry("tool", "1.1-1", "aarch64"))
	if outcome != AddInserted || len(entries) != 2 {
		t.Errorf("other-arch add = %v with %d entries, want inserted with 2", outcome, len(entries))
	}
}

func TestRepoService_Remove(t *testing.T) {
	svc := NewRepoService()
	entries := []entities.RepoEntry{
		dbEntry("tool", "1.0-1", "x86_64"),
		dbEntry("tool", "1.0-1", "aarch64"),
		dbEntry("zlib", "1.3-2", "x86_64"),
	}

	entries, removed := svc.Remove(entries, "tool")
	if !removed {
		t.Error("Remove() = false, want true")
	}
	if len(entries) != 1 || entries[0].Name != "zlib" {
		t.Errorf("entries after remove = %+v, want only zlib", entries)
	}

	_, removed = svc.Remove(entries, "absent")
	if removed {
		t.Error("Remove() of absent package = true, want false")
	}
}
