package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	method string
	path   string
	body   map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeAPI) last() apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := apiCall{method: r.Method, path: r.URL.RequestURI()}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &call.body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/listen/play":
			if call.body["url"] == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"reference is not a supported youtube url"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"requested"}`)
		case "/api/listen/volume":
			_, _ = io.WriteString(w, `{"volume":0.25}`)
		case "/api/listen/state":
			_, _ = io.WriteString(w, `{"player":{"current_id":"ABCDEFGHIJK","title":"Song","playing":true,"position":65,"length":200,"status":"loaded","volume":0.45},"role":{"is_master":true,"acts_as_authority":true},"connected":true}`)
		case "/api/listen/session":
			_, _ = io.WriteString(w, `{"peer_id":"12D3KooW","room":"lobby","connected":true,"is_master":true}`)
		case "/api/listen/history":
			_, _ = io.WriteString(w, `[{"media_id":"ABCDEFGHIJK","title":"Song","room":"lobby","played_at":"2024-01-02T03:04:05Z"}]`)
		case "/api/listen/history/clear", "/api/cache/clear":
			_, _ = io.WriteString(w, `{"status":"cleared"}`)
		case "/api/cache":
			_, _ = io.WriteString(w, `[{"id":"ABCDEFGHIJK","title":"Song","size":3145728,"duration":90000000000,"plays":7,"accessed_at":"2024-01-02T03:04:05Z"}]`)
		default:
			_, _ = io.WriteString(w, `{"status":"ok","room":"kitchen"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestIDPrintsMediaID(t *testing.T) {
	out, err := executeCLI(t, "id", "https://www.youtube.com/watch?v=ABCDEFGHIJK&t=10")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJK\n", out)

	_, err = executeCLI(t, "id", "https://example.com/x")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestPlaySendsURL(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, err := executeCLI(t, "--api", srv.URL, "play", "https://youtu.be/ABCDEFGHIJK")
	require.NoError(t, err)
	assert.Equal(t, "requested\n", out)
	call := api.last()
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/api/listen/play", call.path)
	assert.Equal(t, "https://youtu.be/ABCDEFGHIJK", call.body["url"])

	_, err = executeCLI(t, "--api", srv.URL, "play", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a supported youtube url")
}

func TestSeekDirections(t *testing.T) {
	api, srv := newFakeAPI(t)

	tests := []struct {
		args    []string
		seconds float64
		forward bool
	}{
		{[]string{"seek", "10"}, 10, true},
		{[]string{"seek", "--back", "4"}, 4, false},
		{[]string{"seek", "--", "-2.5"}, 2.5, false},
	}
	for _, tt := range tests {
		_, err := executeCLI(t, append([]string{"--api", srv.URL}, tt.args...)...)
		require.NoError(t, err, tt.args)
		call := api.last()
		assert.Equal(t, "/api/listen/seek", call.path)
		assert.Equal(t, tt.seconds, call.body["seconds"], tt.args)
		assert.Equal(t, tt.forward, call.body["forward"], tt.args)
	}

	_, err := executeCLI(t, "--api", srv.URL, "seek", "soon")
	assert.Error(t, err)
}

func TestVolumeValidatesLocally(t *testing.T) {
	api, srv := newFakeAPI(t)

	_, err := executeCLI(t, "--api", srv.URL, "volume", "3")
	require.Error(t, err)
	assert.Empty(t, api.calls)

	out, err := executeCLI(t, "--api", srv.URL, "volume", "0.25")
	require.NoError(t, err)
	assert.Equal(t, "volume 0.25\n", out)
}

func TestStatusHumanAndJSON(t *testing.T) {
	_, srv := newFakeAPI(t)

	out, err := executeCLI(t, "--api", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "lobby")
	assert.Contains(t, out, "Song (ABCDEFGHIJK)")
	assert.Contains(t, out, "1:05 / 3:20")

	out, err = executeCLI(t, "--api", srv.URL, "status", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
}

func TestHistoryAndCache(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, err := executeCLI(t, "--api", srv.URL, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "/api/listen/history?limit=5", api.last().path)
	assert.Contains(t, out, "ABCDEFGHIJK")

	out, err = executeCLI(t, "--api", srv.URL, "cache", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "3.0 MB")
	assert.Contains(t, out, "1:30")
	assert.Contains(t, out, "PLAYS")
	assert.Regexp(t, `Song\s+1:30\s+3\.0 MB\s+7\s`, out)

	out, err = executeCLI(t, "--api", srv.URL, "history", "clear")
	require.NoError(t, err)
	assert.Equal(t, "/api/listen/history/clear", api.last().path)
	assert.Equal(t, http.MethodPost, api.last().method)

	out, err = executeCLI(t, "--api", srv.URL, "cache", "clear")
	require.NoError(t, err)
	assert.Equal(t, "cleared\n", out)
	assert.Equal(t, "/api/cache/clear", api.last().path)
}

func TestJoinAndLeave(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, err := executeCLI(t, "--api", srv.URL, "join", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "joined kitchen\n", out)
	assert.Equal(t, "kitchen", api.last().body["room"])

	_, err = executeCLI(t, "--api", srv.URL, "leave")
	require.NoError(t, err)
	assert.Equal(t, "/api/listen/leave", api.last().path)
}

func TestPeerRequiresExistingDirectory(t *testing.T) {
	_, err := executeCLI(t, "peer", "/definitely/not/here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
