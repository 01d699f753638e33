package twofa_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rentstack/twofa-gateway/pkg/authapi"
	"github.com/rentstack/twofa-gateway/pkg/authstub"
)

// countingProxy wraps the stub handler, counting requests per path and
// optionally failing a path with a fixed status code.
type countingProxy struct {
	next http.Handler

	mu       sync.Mutex
	counts   map[string]int
	failWith map[string]int
}

func newCountingProxy(next http.Handler) *countingProxy {
	return &countingProxy{
		next:     next,
		counts:   make(map[string]int),
		failWith: make(map[string]int),
	}
}

func (p *countingProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.counts[r.URL.Path]++
	code, fail := p.failWith[r.URL.Path]
	p.mu.Unlock()

	if fail {
		http.Error(w, "forced failure", code)
		return
	}
	p.next.ServeHTTP(w, r)
}

func (p *countingProxy) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[path]
}

func (p *countingProxy) failPath(path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith[path] = status
}

func (p *countingProxy) restorePath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failWith, path)
}

// harness is the shared fixture: a stub auth service behind a counting proxy,
// one seeded account, and a client pointed at it.
type harness struct {
	client *authapi.Client
	stub   *authstub.Server
	proxy  *countingProxy
	userID string
	token  string
}

func newHarness(t *testing.T) *harness {
	stub := authstub.NewServer()
	userID, token, err := stub.AddAccount("renter@example.com", "pwd", "admin")
	require.NoError(t, err)

	proxy := newCountingProxy(stub.Handler())
	server := httptest.NewServer(proxy)
	t.Cleanup(server.Close)

	return &harness{
		client: authapi.NewClient(server.URL, nil),
		stub:   stub,
		proxy:  proxy,
		userID: userID,
		token:  token,
	}
}
