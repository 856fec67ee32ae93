package model

import (
	"time"

	"github.com/paulmach/orb"
)

// EpochYear is the year loss-year code 0 is counted from; code v means 2000+v.
const EpochYear = 2000

// property keys used when regions are encoded as geojson features
const (
	RegionName  = "name"
	RegionSRID  = "srid"
	RegionLoss  = "total_loss_ha"
	RegionYears = "years"
)

// Region is one administrative boundary as read from the boundary store.
type Region struct {
	Name     string
	SRID     int
	Geometry orb.MultiPolygon
}

// LossRecord is the loss area detected in one region for one calendar year.
type LossRecord struct {
	Id         int64
	RegionName string
	Year       int
	AreaHa     float64
}

// YearTotal is a loss total summed over all regions for one year.
type YearTotal struct {
	Year   int
	AreaHa float64
}

// RegionTotal is a loss total summed over all years for one region.
type RegionTotal struct {
	RegionName string
	AreaHa     float64
}

// Artifact is a per-region clipped raster on disk.
type Artifact struct {
	Region string
	Path   string
}

// Run is a row of the pipeline run ledger.
type Run struct {
	Stage       string
	Fingerprint string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Properties  map[string]string
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Summary is the outcome of one stage over a batch of regions. A region
// with no loss pixels counts as processed, never as skipped.
type Summary struct {
	Stage     string
	Processed []string
	Skipped   []string
	Failed    []string
}
