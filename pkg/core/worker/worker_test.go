package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEchoWorker("echo", "Echo", "> ")))
	require.NoError(t, r.Register(NewUpperWorker("upper", "")))

	// 重复注册
	assert.Error(t, r.Register(NewEchoWorker("echo", "", "")))

	w, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo", w.Name())

	out, err := w.Invoke(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "> hi", out)

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrWorkerNotFound))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "echo", list[0].ID())
	assert.Equal(t, "upper", list[1].Name())

	require.NoError(t, r.Unregister("upper"))
	assert.True(t, errors.Is(r.Unregister("upper"), ErrWorkerNotFound))
}

func TestFuncWorker_NilFunc(t *testing.T) {
	w := NewFuncWorker("noop", "", nil)
	_, err := w.Invoke(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestHTTPWorker_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpInvokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		if req.Input == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(httpInvokeResponse{Error: "upstream down"})
			return
		}
		_ = json.NewEncoder(w).Encode(httpInvokeResponse{Output: req.WorkerID + ":" + req.Input})
	}))
	defer srv.Close()

	w := NewHTTPWorker("remote", "Remote Agent", srv.URL, map[string]string{"X-Token": "secret"})

	out, err := w.Invoke(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "remote:hello", out)

	_, err = w.Invoke(context.Background(), "fail")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestHTTPWorker_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	w := NewHTTPWorker("slow", "", srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Invoke(ctx, "x")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCommandWorker_Invoke(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat不可用")
	}
	w, err := NewCommandWorker("cat", "", []string{"cat"}, nil)
	require.NoError(t, err)

	out, err := w.Invoke(context.Background(), "piped input\n")
	require.NoError(t, err)
	assert.Equal(t, "piped input", out)

	_, err = NewCommandWorker("empty", "", nil, nil)
	assert.Error(t, err)
}
