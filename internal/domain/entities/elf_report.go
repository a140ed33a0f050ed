package entities

// ELFAnalysis is the inspection result for one ELF file in a staged tree
type ELFAnalysis struct {
	Path            string // staging-root relative path
	NeededLibraries []string
	Interpreter     string
	Stripped        bool
	Hardening       HardeningFeatures
}

// HardeningFeatures lists the mitigation features detected in a binary
type HardeningFeatures struct {
	PIE           bool   // position independent executable
	StackCanaries bool   // stack protector symbols present
	RELRO         string // "full", "partial" or "disabled"
	NXBit         bool   // non-executable stack
	FortifySource bool   // fortified libc calls present
}

// Score summarizes the hardening posture as passed/total checks
func (h HardeningFeatures) Score() (passed, total int) {
	total = 4
	if h.PIE {
		passed++
	}
	if h.StackCanaries {
		passed++
	}
	if h.RELRO == "full" {
		passed++
	}
	if h.NXBit {
		passed++
	}
	return passed, total
}
