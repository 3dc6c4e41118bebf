package crypto

// MaskSequence replaces hidden characters in masked values.
const MaskSequence = "••••••••"

const (
	maskPrefixLen = 8
	maskSuffixLen = 4
	maskMinLen    = maskPrefixLen + maskSuffixLen
)

// Mask hides a secret for display: values of 12 characters or fewer become
// MaskSequence, longer ones keep their first 8 and last 4 characters.
// The result must never be compared or stored.
func Mask(value string) string {
	runes := []rune(value)
	if len(runes) <= maskMinLen {
		return MaskSequence
	}
	return string(runes[:maskPrefixLen]) + MaskSequence + string(runes[len(runes)-maskSuffixLen:])
}
