package entities

// SignatureCheck is the outcome of verifying one detached signature
// against its signed source.
type SignatureCheck struct {
	File          string // signed file name
	SignatureFile string
	Valid         bool
	SignerName    string
	Fingerprint   string
	// Trusted is set when the signer fingerprint matches the manifest's
	// validpgpkeys allowlist; always true when no allowlist is declared.
	Trusted bool
	Reason  string // failure detail when Valid or Trusted is false
}
