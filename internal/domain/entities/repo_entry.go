package entities

// RepoEntry is one package record inside a repository database archive
type RepoEntry struct {
	FileName  string
	Name      string
	Base      string
	Version   string
	Desc      string
	Groups    []string
	CSize     int64
	ISize     int64
	SHA256    string
	URL       string
	Licenses  []string
	Arch      string
	BuildDate int64
	Packager  string

	Replaces     []string
	Conflicts    []string
	Provides     []string
	Depends      []string
	OptDepends   []string
	MakeDepends  []string
	CheckDepends []string

	Files []string
}

// EntryDir is the directory name the entry occupies inside the database
// archive: <name>-<fullversion>.
func (e *RepoEntry) EntryDir() string {
	return e.Name + "-" + e.Version
}
