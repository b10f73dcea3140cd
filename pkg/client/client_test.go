package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/freqclamp/pkg/events"
	"github.com/charlie0129/freqclamp/pkg/policy"
)

// serveUnix runs h on a unix socket and returns a client for it.
func serveUnix(t *testing.T, h http.Handler) *Client {
	t.Helper()

	// Socket paths are length limited, keep it short.
	dir, err := os.MkdirTemp("", "fc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return NewClient(sock)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Get("/version")
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestStore(t *testing.T) {
	var got []string
	mux := http.NewServeMux()
	mux.HandleFunc("/limits", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		b, _ := io.ReadAll(r.Body)
		var token string
		require.NoError(t, json.Unmarshal(b, &token))
		got = append(got, token)
		if token == "turbo" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`"invalid input: unknown token"`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`"status: on\nmin = 100000 KHz\nmax = 500000 KHz\n"`))
	})
	c := serveUnix(t, mux)

	ret, err := c.SetEnabled(true)
	require.NoError(t, err)
	assert.Equal(t, "status: on\nmin = 100000 KHz\nmax = 500000 KHz\n", ret)

	_, err = c.SetScreenoffMin(policy.Frequency(300000))
	require.NoError(t, err)
	_, err = c.SetScreenoffMax(policy.Frequency(900000))
	require.NoError(t, err)
	_, err = c.SetEnabled(false)
	require.NoError(t, err)

	_, err = c.Store("turbo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 400: invalid input: unknown token")

	assert.Equal(t, []string{"on", "min=300000", "max=900000", "off", "turbo"}, got)
}

func TestNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`"decision journal is disabled"`))
	})
	c := serveUnix(t, mux)

	_, err := c.GetHistory(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"enabled":true,"screenoffMin":100000,"screenoffMax":500000,"lastNormalMin":300000,"lastNormalMax":2000000,"suspended":true}`))
	})
	c := serveUnix(t, mux)

	st, err := c.GetState()
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.True(t, st.Suspended)
	assert.Equal(t, policy.Frequency(2000000), st.LastNormalMax)
}

func TestSubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{events.DisplayChanged, events.PolicyApplied}, r.URL.Query()["name"])
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event:display.changed\ndata:{\"suspended\":true,\"ts\":1}\n\n")
		_, _ = fmt.Fprint(w, "event:policy.applied\ndata:{\"cpu\":2,\"appliedMax\":500000}\n\n")
		w.(http.Flusher).Flush()
	})
	c := serveUnix(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.SubscribeEvents(ctx, events.DisplayChanged, events.PolicyApplied)
	require.NoError(t, err)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)

	d, err := events.DecodeAs[events.DisplayChangedEvent](got[0])
	require.NoError(t, err)
	assert.True(t, d.Suspended)

	p, err := events.DecodeAs[events.PolicyAppliedEvent](got[1])
	require.NoError(t, err)
	assert.Equal(t, uint(2), p.CPU)
	assert.Equal(t, uint32(500000), p.AppliedMax)
}
