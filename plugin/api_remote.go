package plugin

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	RemoteRequestsPerMinute = 100
	RemoteTimeout           = 30 * time.Second
	RemoteMaxResponseSize   = 10 * 1024 * 1024
)

// RemoteAPI lets a plugin call the domains listed in its manifest network
// table. Requests made from a hook carry the hook's context.
type RemoteAPI struct {
	class   string
	allowed map[string][]string
	client  *http.Client

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewRemoteAPI creates the remote module for a plugin.
func NewRemoteAPI(class string, allowed map[string][]string) *RemoteAPI {
	r := &RemoteAPI{
		class:       class,
		allowed:     allowed,
		windowStart: time.Now(),
	}
	r.client = &http.Client{
		Timeout: RemoteTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if _, ok := r.allowed[req.URL.Hostname()]; !ok {
				return fmt.Errorf("redirect to unauthorized domain: %s", req.URL.Hostname())
			}
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	return r
}

// Register adds the remote module to the Lua state
func (r *RemoteAPI) Register(L *lua.LState) {
	mod := L.NewTable()
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		mod.RawSetString(strings.ToLower(method), L.NewFunction(r.request(method)))
	}
	L.SetGlobal("remote", mod)
}

func (r *RemoteAPI) check(rawURL, method string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	methods, ok := r.allowed[u.Hostname()]
	if !ok {
		return fmt.Errorf("domain not in allowlist: %s", u.Hostname())
	}
	if !slices.Contains(methods, method) {
		return fmt.Errorf("%s not allowed for domain %s", method, u.Hostname())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.windowStart) >= time.Minute {
		r.count = 0
		r.windowStart = time.Now()
	}
	if r.count >= RemoteRequestsPerMinute {
		return fmt.Errorf("rate limit exceeded: %d requests per minute", RemoteRequestsPerMinute)
	}
	r.count++
	return nil
}

// remote.get(url[, {body=..., headers={...}}]) returns {status, body, headers}
// or nil and an error message.
func (r *RemoteAPI) request(method string) lua.LGFunction {
	return func(L *lua.LState) int {
		fail := func(err error) int {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		rawURL := L.CheckString(1)
		if err := r.check(rawURL, method); err != nil {
			return fail(err)
		}

		var body io.Reader
		headers := map[string]string{}
		if opts, ok := L.Get(2).(*lua.LTable); ok {
			if b := opts.RawGetString("body"); b != lua.LNil {
				body = strings.NewReader(b.String())
			}
			if h, ok := opts.RawGetString("headers").(*lua.LTable); ok {
				h.ForEach(func(k, v lua.LValue) { headers[k.String()] = v.String() })
			}
		}

		req, err := http.NewRequestWithContext(luaContext(L), method, rawURL, body)
		if err != nil {
			return fail(err)
		}
		req.Header.Set("User-Agent", "go-cms/"+r.class)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return fail(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, RemoteMaxResponseSize))
		if err != nil {
			return fail(err)
		}

		result := L.NewTable()
		result.RawSetString("status", lua.LNumber(resp.StatusCode))
		result.RawSetString("body", lua.LString(data))
		respHeaders := L.NewTable()
		for k, v := range resp.Header {
			if len(v) > 0 {
				respHeaders.RawSetString(k, lua.LString(v[0]))
			}
		}
		result.RawSetString("headers", respHeaders)

		L.Push(result)
		return 1
	}
}
