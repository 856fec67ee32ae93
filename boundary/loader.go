// Package boundary loads the authoritative region polygons.
package boundary

import (
	"context"

	"github.com/earthrise-media/forestloss/model"
	"go.uber.org/zap"
)

// Source is the boundary store query.
type Source interface {
	FindRegions(ctx context.Context) ([]*model.Region, error)
}

type Loader struct {
	Source Source
}

// Load returns every region boundary. A store failure is logged and yields
// an empty list, which callers treat as no work.
func (l *Loader) Load(ctx context.Context) []*model.Region {
	regions, err := l.Source.FindRegions(ctx)
	if err != nil {
		zap.S().Errorf("error loading region boundaries: %s", err.Error())
		return nil
	}
	var out []*model.Region
	for _, r := range regions {
		if r == nil || len(r.Geometry) == 0 {
			zap.S().Warnf("ignoring region without geometry: %v", r)
			continue
		}
		out = append(out, r)
	}
	zap.S().Infof("loaded %d region boundaries", len(out))
	return out
}
