package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docpilot/source-client/pkg/client"
)

// fakeDoer answers requests from a map and records call counts.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string]*client.Response
	errs      map[string]error
	calls     int
	inflight  int32
	peak      int32
}

func (d *fakeDoer) Do(ctx context.Context, req *client.Request) (*client.Response, error) {
	cur := atomic.AddInt32(&d.inflight, 1)
	defer atomic.AddInt32(&d.inflight, -1)
	for {
		peak := atomic.LoadInt32(&d.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&d.peak, peak, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if err, ok := d.errs[req.URL]; ok {
		return nil, err
	}
	if resp, ok := d.responses[req.URL]; ok {
		return resp, nil
	}
	return &client.Response{StatusCode: 200, Data: []byte("ok"), URL: req.URL}, nil
}

func requestsFor(urls ...string) []*client.Request {
	reqs := make([]*client.Request, len(urls))
	for i, u := range urls {
		reqs[i] = &client.Request{URL: u}
	}
	return reqs
}

func TestFetchAll(t *testing.T) {
	doer := &fakeDoer{
		responses: map[string]*client.Response{
			"http://docs/a": {StatusCode: 200, Data: []byte("a"), URL: "http://docs/a"},
			"http://docs/b": {StatusCode: 200, Data: []byte("b"), URL: "http://docs/b", FromCache: true},
		},
	}

	f := New(doer, DefaultConfig())
	results, err := f.FetchAll(context.Background(), requestsFor("http://docs/a", "http://docs/b"))
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if string(results["http://docs/a"].Response.Data) != "a" {
		t.Errorf("result a = %q", results["http://docs/a"].Response.Data)
	}
	if !results["http://docs/b"].FromCache {
		t.Error("result b should be marked FromCache")
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	doer := &fakeDoer{
		errs: map[string]error{
			"http://docs/broken": errors.New("connection refused"),
		},
	}

	f := New(doer, DefaultConfig())
	results, err := f.FetchAll(context.Background(), requestsFor("http://docs/good", "http://docs/broken"))
	if err != nil {
		t.Fatalf("FetchAll() error = %v, per-URL failures should not fail the batch", err)
	}

	if results["http://docs/broken"].Err == nil {
		t.Error("broken URL should carry its error")
	}
	if results["http://docs/good"].Err != nil {
		t.Errorf("good URL failed: %v", results["http://docs/good"].Err)
	}
}

func TestFetchAllRespectsWorkerLimit(t *testing.T) {
	doer := &fakeDoer{}

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://docs/page-%d", i)
	}

	f := New(doer, Config{Workers: 3, Timeout: time.Second})
	results, err := f.FetchAll(context.Background(), requestsFor(urls...))
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(results) != 20 {
		t.Errorf("got %d results, want 20", len(results))
	}
	if peak := atomic.LoadInt32(&doer.peak); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestFetchAllCancellation(t *testing.T) {
	doer := &fakeDoer{}

	urls := make([]string, 50)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://docs/page-%d", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(doer, Config{Workers: 2, Timeout: time.Second})
	results, err := f.FetchAll(ctx, requestsFor(urls...))
	if err == nil && len(results) == len(urls) {
		t.Skip("all fetches completed before cancellation took effect")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNewDefaults(t *testing.T) {
	f := New(&fakeDoer{}, Config{})
	if f.config.Workers != 4 {
		t.Errorf("Workers = %d, want 4", f.config.Workers)
	}
	if f.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", f.config.Timeout)
	}
}
