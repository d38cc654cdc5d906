// Package fileid derives stable asset ids for files imported from watched directories.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "import:"

// ImportID returns the asset id for the file at absolutePath imported for owner.
// The same owner and cleaned path always yield the same id, so re-importing a
// file is detectable; different owners importing one file get different ids.
func ImportID(owner, absolutePath string) string {
	h := sha256.New()
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(filepath.Clean(absolutePath)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
