// Package testutil holds helpers shared by the integration tests of the
// stores, the scheduler lock providers and the status-check flow.
package testutil

import (
	"os"
	"strconv"
	"testing"
)

// IntegrationEnv opts in to container-backed tests on CI runners.
const IntegrationEnv = "BATCHSYNC_INTEGRATION"

// RequireIntegration skips container-backed tests in -short mode, and on CI
// unless BATCHSYNC_INTEGRATION is set to a true value.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	if os.Getenv("CI") == "" {
		return
	}
	if enabled, _ := strconv.ParseBool(os.Getenv(IntegrationEnv)); !enabled {
		t.Skipf("skipping container-backed test on CI (set %s=1 to run)", IntegrationEnv)
	}
}
