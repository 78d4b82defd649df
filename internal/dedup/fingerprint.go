package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"basegraph.app/auditor/internal/model"
)

// Fingerprint derives the deterministic identity key for a finding. The
// title and description are lowercased with whitespace collapsed before
// hashing, so reformatting of model prose does not mint a new identity.
// The line range is normalized (ordered, end defaulting to start) for the
// same reason.
func Fingerprint(f model.Finding) string {
	start, end := normalizeRange(f.StartLine, f.EndLine)
	text := normalizeText(f.Title + " " + f.Description)

	data := fmt.Sprintf("%s:%d-%d:%s", f.File, start, end, text)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func normalizeRange(start, end int) (int, int) {
	if end == 0 {
		end = start
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
