package testsupport

import (
	"context"
	"fmt"
	"sync"

	"archivist/internal/services"
	"archivist/internal/sources"
	"archivist/internal/templates"
)

// FakeFetcher is an in-memory sources.Fetcher. Unknown byte URLs fail with a
// not-found error.
type FakeFetcher struct {
	mu sync.Mutex

	Discovery   sources.Discovery
	DiscoverErr error
	Payloads    map[string]sources.Payloads
	PayloadErr  error
	Bytes       map[string][]byte
	// Failures makes every FetchBytes call for the URL return the error.
	Failures map[string]error

	calls map[string]int
}

// NewFakeFetcher returns an empty fake.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		Payloads: make(map[string]sources.Payloads),
		Bytes:    make(map[string][]byte),
		Failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// DiscoverUnits implements sources.Fetcher.
func (f *FakeFetcher) DiscoverUnits(_ context.Context, sourceURL string, _ *templates.Template) (sources.Discovery, error) {
	f.record("discover " + sourceURL)
	if f.DiscoverErr != nil {
		return sources.Discovery{}, f.DiscoverErr
	}
	return f.Discovery, nil
}

// FetchUnitPayloads implements sources.Fetcher.
func (f *FakeFetcher) FetchUnitPayloads(_ context.Context, unitURL string, _ *templates.Template) (sources.Payloads, error) {
	f.record("payloads " + unitURL)
	if f.PayloadErr != nil {
		return sources.Payloads{}, f.PayloadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	payloads, ok := f.Payloads[unitURL]
	if !ok {
		return sources.Payloads{}, services.Wrap(services.ErrValidation, "fake", "payloads", fmt.Sprintf("no payloads for %s", unitURL), nil)
	}
	return payloads, nil
}

// FetchBytes implements sources.Fetcher.
func (f *FakeFetcher) FetchBytes(_ context.Context, rawURL string) ([]byte, error) {
	f.record("bytes " + rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Failures[rawURL]; ok {
		return nil, err
	}
	data, ok := f.Bytes[rawURL]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "fake", "bytes", rawURL, nil)
	}
	return append([]byte(nil), data...), nil
}

// Calls returns how often op was invoked, e.g. "bytes https://x/1.jpg".
func (f *FakeFetcher) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeFetcher) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

// JPEG returns n bytes that sniff as image/jpeg.
func JPEG(n int) []byte {
	if n < 3 {
		n = 3
	}
	data := make([]byte, n)
	data[0], data[1], data[2] = 0xFF, 0xD8, 0xFF
	for i := 3; i < n; i++ {
		data[i] = byte(i)
	}
	return data
}
