// Package guard forces test mode for any package that imports it,
// keeping rate limiting and runtime side effects out of test runs.
package guard

import (
	"os"
	"sync"

	"github.com/portside-host/portside/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PORTSIDE_TEST_MODE") == "" {
			_ = os.Setenv("PORTSIDE_TEST_MODE", "1")
		}
		app.RefreshTestMode()
	})
}
