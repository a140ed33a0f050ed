package entities

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// SourceProtocol classifies how a source entry is obtained
type SourceProtocol string

// Source protocols understood by the fetcher
const (
	ProtocolHTTP  SourceProtocol = "http"
	ProtocolFTP   SourceProtocol = "ftp"
	ProtocolLocal SourceProtocol = "local"
	ProtocolGit   SourceProtocol = "git"
)

// VCSRef pins a version-control source to a tag, branch or commit
type VCSRef struct {
	Kind  string // "tag", "branch" or "commit"
	Value string
}

// Source is one entry of the source array:
//
//	[folder::]url[#fragment]
//
// Local entries are bare filenames resolved against the manifest
// directory. Git entries carry a "git+" scheme prefix and an optional
// fragment selecting the ref to check out.
type Source struct {
	Raw      string
	Folder   string
	Location string
	Protocol SourceProtocol
	Ref      *VCSRef
}

// ParseSource parses a single source array entry
func ParseSource(raw string) (Source, error) {
	if strings.TrimSpace(raw) == "" {
		return Source{}, fmt.Errorf("source entry is empty")
	}

	s := Source{Raw: raw}
	rest := raw

	if idx := strings.Index(rest, "::"); idx >= 0 {
		s.Folder = rest[:idx]
		rest = rest[idx+2:]
		if s.Folder == "" {
			return Source{}, fmt.Errorf("source %q has an empty folder override", raw)
		}
	}

	if idx := strings.Index(rest, "#"); idx >= 0 {
		frag := rest[idx+1:]
		rest = rest[:idx]
		kv := strings.SplitN(frag, "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			return Source{}, fmt.Errorf("source %q has a malformed fragment %q", raw, frag)
		}
		switch kv[0] {
		case "tag", "branch", "commit":
			s.Ref = &VCSRef{Kind: kv[0], Value: kv[1]}
		default:
			return Source{}, fmt.Errorf("source %q uses unsupported fragment type %q", raw, kv[0])
		}
	}

	switch {
	case strings.HasPrefix(rest, "git+"):
		s.Protocol = ProtocolGit
		s.Location = strings.TrimPrefix(rest, "git+")
	case strings.HasPrefix(rest, "git://"):
		s.Protocol = ProtocolGit
		s.Location = rest
	case strings.HasPrefix(rest, "http://"), strings.HasPrefix(rest, "https://"):
		s.Protocol = ProtocolHTTP
		s.Location = rest
	case strings.HasPrefix(rest, "ftp://"):
		s.Protocol = ProtocolFTP
		s.Location = rest
	case strings.Contains(rest, "://"):
		return Source{}, fmt.Errorf("source %q uses an unsupported protocol", raw)
	default:
		s.Protocol = ProtocolLocal
		s.Location = strings.TrimPrefix(rest, "file://")
	}

	if s.Ref != nil && s.Protocol != ProtocolGit {
		return Source{}, fmt.Errorf("source %q carries a VCS fragment but is not a VCS source", raw)
	}

	return s, nil
}

// ParseSources parses a whole source array
func ParseSources(entries []string) ([]Source, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	sources := make([]Source, 0, len(entries))
	for _, e := range entries {
		s, err := ParseSource(e)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// Filename is the local name the entry is stored under inside the source
// directory and cache.
func (s Source) Filename() string {
	if s.Folder != "" {
		return s.Folder
	}
	switch s.Protocol {
	case ProtocolGit:
		base := path.Base(strippedPath(s.Location))
		return strings.TrimSuffix(base, ".git")
	case ProtocolLocal:
		return path.Base(s.Location)
	default:
		return path.Base(strippedPath(s.Location))
	}
}

// strippedPath returns the URL path without query noise; bad URLs fall
// back to the raw string so Filename never fails.
func strippedPath(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || u.Path == "" {
		return loc
	}
	return u.Path
}

// IsRemote reports whether the entry has to be downloaded
func (s Source) IsRemote() bool {
	return s.Protocol != ProtocolLocal
}

// IsVCS reports whether the entry is a version-control checkout
func (s Source) IsVCS() bool {
	return s.Protocol == ProtocolGit
}

// IsSignature reports whether the entry is a detached signature companion
// for another source.
func (s Source) IsSignature() bool {
	name := s.Filename()
	return strings.HasSuffix(name, ".sig") || strings.HasSuffix(name, ".asc") || strings.HasSuffix(name, ".sign")
}

// SignedFilename returns the filename of the source this signature entry
// covers; the second return is false for non-signature entries.
func (s Source) SignedFilename() (string, bool) {
	if !s.IsSignature() {
		return "", false
	}
	name := s.Filename()
	for _, ext := range []string{".sig", ".asc", ".sign"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return "", false
}
