package shared

import "fmt"

// CashPeriodTaskKey builds the dedup key for background work on one cash period.
func CashPeriodTaskKey(kind string, periodID int64) string {
	return fmt.Sprintf("cash:period:%d:%s", periodID, kind)
}
