// Package naming generates display names for uploaded documents.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultSuffixLength is the suffix length used for uploads.
const DefaultSuffixLength = 5

// ErrInvalidSuffixLength is returned for a non-positive suffix length.
var ErrInvalidSuffixLength = errors.New("suffix length must be positive")

// Generate returns "<stem>_<suffix><ext>" for the base name of path, where
// suffix is suffixLength characters drawn from A-Za-z0-9, '-' and '_' using
// crypto/rand. Two calls for the same path almost never collide, so repeated
// uploads of one filename get distinct registry entries.
func Generate(path string, suffixLength int) (string, error) {
	if suffixLength <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSuffixLength, suffixLength)
	}

	base := filepath.Base(path)
	// leading dots belong to the stem: ".env" has no extension
	dots := len(base) - len(strings.TrimLeft(base, "."))
	ext := filepath.Ext(base[dots:])
	stem := strings.TrimSuffix(base, ext)

	suffix, err := gonanoid.New(suffixLength)
	if err != nil {
		return "", fmt.Errorf("generate suffix: %w", err)
	}

	return stem + "_" + suffix + ext, nil
}
