package gateways

import (
	"context"
	"debug/elf"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

const elfMagic = "\x7fELF"

// elfInspector analyzes staged binaries using debug/elf, no external
// tools required
type elfInspector struct {
	log interfaces.Logger
}

// NewELFInspector creates a new ELF inspector
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewELFInspector(log interfaces.Logger) *elfInspector {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &elfInspector{log: log}
}

// InspectTree walks a staging root and analyzes every ELF file in it.
// Non-ELF files are skipped by magic; unparseable ELF files are logged
// and skipped rather than failing the whole tree.
func (g *elfInspector) InspectTree(ctx context.Context, root string) ([]entities.ELFAnalysis, error) {
	var results []entities.ELFAnalysis

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		isELF, err := hasELFMagic(path)
		if err != nil {
			return err
		}
		if !isELF {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		analysis, err := g.InspectFile(path)
		if err != nil {
			g.log.Warn("skipping unparseable ELF file",
				interfaces.F("path", rel),
				interfaces.F("error", err.Error()))
			return nil
		}
		analysis.Path = filepath.ToSlash(rel)
		results = append(results, *analysis)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect staged tree: %w", err)
	}

	g.log.Debug("inspected staged tree",
		interfaces.F("root", root),
		interfaces.F("binaries", len(results)))
	return results, nil
}

// InspectFile analyzes a single ELF file
func (g *elfInspector) InspectFile(path string) (*entities.ELFAnalysis, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	return inspectELF(f)
}

// inspectELF classifies an opened ELF file. Split from the file handling
// so hardening checks are testable on constructed headers.
func inspectELF(f *elf.File) (*entities.ELFAnalysis, error) {
	analysis := &entities.ELFAnalysis{
		Hardening: entities.HardeningFeatures{
			// no GNU_STACK segment means a non-executable stack
			NXBit: true,
			RELRO: "disabled",
		},
	}

	analysis.Hardening.PIE = f.Type == elf.ET_DYN

	hasRelro := false
	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_GNU_RELRO:
			hasRelro = true
		case elf.PT_GNU_STACK:
			analysis.Hardening.NXBit = prog.Flags&elf.PF_X == 0
		case elf.PT_INTERP:
			analysis.Interpreter = readInterp(prog)
		}
	}
	if hasRelro {
		analysis.Hardening.RELRO = "partial"
		if bindNow(f) {
			analysis.Hardening.RELRO = "full"
		}
	}

	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil, fmt.Errorf("failed to read needed libraries: %w", err)
	}
	analysis.NeededLibraries = libs

	syms, err := f.Symbols()
	analysis.Stripped = err != nil
	if dynSyms, err := f.DynamicSymbols(); err == nil {
		syms = append(syms, dynSyms...)
	}
	analysis.Hardening.StackCanaries, analysis.Hardening.FortifySource = classifySymbols(syms)

	return analysis, nil
}

// bindNow reports whether the dynamic section requests immediate binding,
// which upgrades a RELRO segment from partial to full.
func bindNow(f *elf.File) bool {
	if vals, err := f.DynValue(elf.DT_BIND_NOW); err == nil && len(vals) > 0 {
		return true
	}
	if vals, err := f.DynValue(elf.DT_FLAGS); err == nil {
		for _, v := range vals {
			if elf.DynFlag(v)&elf.DF_BIND_NOW != 0 {
				return true
			}
		}
	}
	if vals, err := f.DynValue(elf.DT_FLAGS_1); err == nil {
		for _, v := range vals {
			if elf.DynFlag1(v)&elf.DF_1_NOW != 0 {
				return true
			}
		}
	}
	return false
}

// classifySymbols scans the symbol tables for the stack protector and
// fortified libc entry points.
func classifySymbols(syms []elf.Symbol) (canaries, fortified bool) {
	for _, sym := range syms {
		if sym.Name == "__stack_chk_fail" {
			canaries = true
			continue
		}
		if strings.HasSuffix(sym.Name, "_chk") {
			fortified = true
		}
	}
	return canaries, fortified
}

func readInterp(prog *elf.Prog) string {
	if prog.Filesz == 0 || prog.Filesz > 4096 {
		return ""
	}
	data := make([]byte, prog.Filesz)
	if _, err := io.ReadFull(prog.Open(), data); err != nil {
		return ""
	}
	// the segment holds a NUL-terminated path
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// hasELFMagic sniffs the first four bytes of a file
func hasELFMagic(path string) (bool, error) {
	//nolint:gosec // G304: path comes from walking the staging root
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	magic := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		// too short to be a binary
		return false, nil
	}
	return string(magic) == elfMagic, nil
}
