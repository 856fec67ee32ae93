package encoding

import "github.com/earthrise-media/forestloss/model"

type LossRow struct {
	Id     int64   `json:"id"`
	Region string  `json:"region"`
	Year   int     `json:"year"`
	LossHa float64 `json:"loss_ha"`
}

type YearRow struct {
	Year   int     `json:"year"`
	LossHa float64 `json:"total_loss_ha"`
}

type RegionRow struct {
	Region string  `json:"region"`
	LossHa float64 `json:"total_loss_ha"`
}

func LossRows(records []*model.LossRecord) []LossRow {
	rows := make([]LossRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, LossRow{Id: r.Id, Region: r.RegionName, Year: r.Year, LossHa: r.AreaHa})
	}
	return rows
}

func YearRows(totals []*model.YearTotal) []YearRow {
	rows := make([]YearRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, YearRow{Year: t.Year, LossHa: t.AreaHa})
	}
	return rows
}

func RegionRows(totals []*model.RegionTotal) []RegionRow {
	rows := make([]RegionRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, RegionRow{Region: t.RegionName, LossHa: t.AreaHa})
	}
	return rows
}
