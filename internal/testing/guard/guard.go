package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("RENTHAVEN_TEST_MODE") == "" {
			_ = os.Setenv("RENTHAVEN_TEST_MODE", "1")
		}
	})
}
