package mosaic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// ErrNoTiles means the tile directory held nothing matching the pattern.
var ErrNoTiles = errors.New("no raster tiles found")

// FindTiles returns the tiles in dir matching pattern in lexical order. The
// order is the overlap resolution order used by Build.
func FindTiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad tile pattern %q", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrNoTiles, "%s/%s", dir, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// Fingerprint identifies a tile set by name, size and modification time.
func Fingerprint(tiles []string) (string, error) {
	sorted := append([]string(nil), tiles...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, p := range sorted {
		st, err := os.Stat(p)
		if err != nil {
			return "", errors.Wrap(err, "fingerprinting tiles")
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.Base(p), st.Size(), st.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
