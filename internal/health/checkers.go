package health

import (
	"context"
	"net/http"
	"os"
	"time"
)

// endpointClient is the HTTP client used by [Endpoint] checkers. Readiness
// probes must answer quickly, so the client timeout is shorter than the
// per-check deadline.
var endpointClient = &http.Client{Timeout: 3 * time.Second}

// Probe wraps a bare probe function as a named [Checker]. Useful for
// dependencies that already expose a ping-style method, like the job store
// or the audio slicer.
func Probe(name string, fn func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: fn}
}

// Directory returns a [Checker] that passes when dir exists and a file can
// be created inside it. The probe file is removed before returning.
func Directory(name, dir string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error {
		f, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return err
		}
		path := f.Name()
		f.Close()
		return os.Remove(path)
	}}
}

// Endpoint returns a [Checker] that passes when a GET against url completes
// with any HTTP status. Inference servers commonly answer 404 on their root
// path; the probe verifies reachability, not a specific route.
func Endpoint(name, url string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := endpointClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}}
}
