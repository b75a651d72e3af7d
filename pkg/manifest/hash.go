package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// HashFile returns the content hash of the manifest file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", newError(ErrCodeUnreadable, path, "cannot read manifest for hashing", err)
	}
	return HashBytes(data), nil
}

// HashBytes hashes manifest content after normalizing CRLF and lone CR line
// endings to LF, so the same logical file hashes identically on every
// platform.
func HashBytes(data []byte) string {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))

	sum := sha256.Sum256(normalized)
	return fmt.Sprintf("sha256:%s", hex.EncodeToString(sum[:]))
}
