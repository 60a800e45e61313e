// Package testing switches the binaries into test mode when imported by a test.
package testing

import (
	"os"
	"sync"
)

const testModeEnv = "FORGEFIT_TEST_MODE"

var once sync.Once

// Enable sets FORGEFIT_TEST_MODE so mains return before touching Postgres, Redis or the
// network.
func Enable() {
	once.Do(func() {
		_ = os.Setenv(testModeEnv, "1")
	})
}

func init() {
	Enable()
}
