package raster

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/earthrise-media/forestloss/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ArtifactSuffix ends every per-region clipped raster name.
const ArtifactSuffix = "_lossyear.tif"

var nameReplacer = strings.NewReplacer(" ", "_", "/", "-", string(filepath.Separator), "-")

// ArtifactName maps a region name to its clipped raster file name. Names are
// NFC-normalized so the same region always lands on the same file whatever
// form the boundary store returns it in.
func ArtifactName(region string) string {
	return nameReplacer.Replace(norm.NFC.String(strings.TrimSpace(region))) + ArtifactSuffix
}

// RegionFromArtifact guesses the region name from an artifact file name.
// Underscores become spaces, so names holding underscores or slashes do not
// survive; ArtifactRegion prefers the name recorded in the sidecar.
func RegionFromArtifact(file string) string {
	return strings.ReplaceAll(strings.TrimSuffix(filepath.Base(file), ArtifactSuffix), "_", " ")
}

// ArtifactRegion returns the region a clipped raster was cut to, as recorded
// in its aux.xml sidecar, falling back to the file name.
func ArtifactRegion(path string) string {
	var h Header
	if _, err := readAux(path+AuxFileExt, &h); err != nil {
		zap.S().Warnf("reading region of %s: %s", path, err.Error())
	}
	if h.Region != "" {
		return h.Region
	}
	return RegionFromArtifact(path)
}

// ListArtifacts returns the clipped rasters in dir sorted by region name.
// A missing directory is an empty list.
func ListArtifacts(dir string) ([]model.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	var out []model.Artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArtifactSuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		out = append(out, model.Artifact{Region: ArtifactRegion(path), Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
