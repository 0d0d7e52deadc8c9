//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

const (
	BackendName = "govips"
	LossyWebP   = true
)

var errRuntimeStopped = errors.New("libvips already shut down")

// libvips can be started once per process. Startup and Shutdown are
// reference counted so the cli, the servers and tests can pair them freely.
var vipsRuntime struct {
	mu      sync.Mutex
	refs    int
	stopped bool
}

func Startup() error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.stopped {
		return errRuntimeStopped
	}
	if vipsRuntime.refs == 0 {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 << 20,
			MaxCacheSize:  50,
		})
	}
	vipsRuntime.refs++
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.refs == 0 {
		return
	}
	vipsRuntime.refs--
	if vipsRuntime.refs == 0 {
		vips.Shutdown()
		vipsRuntime.stopped = true
	}
}

// newTransformer takes a reference that lives as long as the process.
func newTransformer() (Transformer, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsTransformer{}, nil
}
