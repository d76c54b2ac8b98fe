package reports

import "github.com/mmdatafocus/retail_dashboard/aging"

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
)

// OldSeasonInventoryPayload is the cached body of INVENTORY:OLD_SEASON.
type OldSeasonInventoryPayload struct {
	Status string       `json:"status" validate:"required,oneof=ok partial"`
	Report aging.Report `json:"report" validate:"required"`
}

// SellThroughPayload is the cached body of INVENTORY:SELL_THROUGH.
type SellThroughPayload struct {
	Status string                  `json:"status" validate:"required,oneof=ok partial"`
	Report aging.SellThroughReport `json:"report" validate:"required"`
}

// status flags a report built from partial data so the dashboard can say so.
func status(warnings []string) string {
	if len(warnings) > 0 {
		return StatusPartial
	}
	return StatusOK
}
