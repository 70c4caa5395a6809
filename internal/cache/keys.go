package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known key families and their default TTLs. Plans and scan results are
// large ephemeral artifacts; the short TTLs on job/resource snapshots keep
// the dashboard reads cheap without letting them go stale for long.
const (
	TerraformPlanTTL     = 24 * time.Hour
	ScanResultsTTL       = 7 * 24 * time.Hour
	JobStatusTTL         = 10 * time.Minute
	ResourceListTTL      = 5 * time.Minute
	ComplianceResultsTTL = 30 * time.Minute
	CostDataTTL          = time.Hour
)

func TerraformPlanKey(planID string) string { return "terraform:plan:" + planID }
func ScanResultsKey(scanID string) string   { return "scan:results:" + scanID }
func JobStatusKey(jobID string) string      { return "job:" + jobID }
func ResourceListKey(resourceType string) string {
	return "resources:" + resourceType
}
func ComplianceKey(accountID string) string { return "compliance:" + accountID }
func CostDataKey(accountID, period string) string {
	return fmt.Sprintf("costs:%s:%s", accountID, period)
}

// StoreTerraformPlan caches a plan artifact for later apply.
func StoreTerraformPlan(ctx context.Context, s Store, planID string, plan json.RawMessage) error {
	return s.Set(ctx, TerraformPlanKey(planID), plan, TerraformPlanTTL)
}

// GetTerraformPlan returns a cached plan artifact or ErrNotFound.
func GetTerraformPlan(ctx context.Context, s Store, planID string) (json.RawMessage, error) {
	return s.Get(ctx, TerraformPlanKey(planID))
}

// StoreScanResults caches compliance scan output.
func StoreScanResults(ctx context.Context, s Store, scanID string, results json.RawMessage) error {
	return s.Set(ctx, ScanResultsKey(scanID), results, ScanResultsTTL)
}

// GetScanResults returns cached scan output or ErrNotFound.
func GetScanResults(ctx context.Context, s Store, scanID string) (json.RawMessage, error) {
	return s.Get(ctx, ScanResultsKey(scanID))
}
