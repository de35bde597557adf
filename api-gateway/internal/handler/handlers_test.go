package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/api-gateway/internal/converter"
	apierrors "github.com/devrev/pairdb/api-gateway/internal/errors"
	"github.com/devrev/pairdb/api-gateway/internal/metrics"
	"github.com/devrev/pairdb/api-gateway/internal/router"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

type stored struct {
	value []byte
	ts    clock.Timestamp
	dead  bool
}

// fakeStorage keeps one map per node. Nodes listed in down answer Unavailable.
type fakeStorage struct {
	mu    sync.Mutex
	nodes map[string]map[string]stored
	down  map[string]bool
	calls []string
	next  uint32
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{nodes: make(map[string]map[string]stored), down: make(map[string]bool)}
}

func (f *fakeStorage) enter(addr string) (map[string]stored, error) {
	f.calls = append(f.calls, addr)
	if f.down[addr] {
		return nil, status.Error(codes.Unavailable, "connection refused")
	}
	if f.nodes[addr] == nil {
		f.nodes[addr] = make(map[string]stored)
	}
	return f.nodes[addr], nil
}

func (f *fakeStorage) Get(_ context.Context, addr string, key []byte) (*pb.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.enter(addr)
	if err != nil {
		return nil, err
	}
	e, ok := node[string(key)]
	if !ok || e.dead {
		return &pb.GetResponse{Found: false}, nil
	}
	return &pb.GetResponse{Found: true, Value: e.value, Timestamp: e.ts}, nil
}

func (f *fakeStorage) Set(_ context.Context, addr string, key, value []byte) (clock.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.enter(addr)
	if err != nil {
		return 0, err
	}
	f.next++
	ts := clock.NewTimestamp(100, clock.Clock(f.next))
	node[string(key)] = stored{value: value, ts: ts}
	return ts, nil
}

func (f *fakeStorage) Delete(_ context.Context, addr string, key []byte) (clock.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.enter(addr)
	if err != nil {
		return 0, err
	}
	f.next++
	ts := clock.NewTimestamp(100, clock.Clock(f.next))
	node[string(key)] = stored{ts: ts, dead: true}
	return ts, nil
}

// replicate copies every key of src onto dst, standing in for forwarding
func (f *fakeStorage) replicate(src, dst string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes[dst] == nil {
		f.nodes[dst] = make(map[string]stored)
	}
	for k, v := range f.nodes[src] {
		f.nodes[dst][k] = v
	}
}

type noSource struct{}

func (noSource) FetchHashSpace(context.Context) (hashring.Seed, hashring.Seed, error) {
	return hashring.Seed{}, hashring.Seed{}, status.Error(codes.Unavailable, "no coordinator")
}

type fixture struct {
	storage *fakeStorage
	router  *router.Router
	mux     *mux.Router
}

func newFixture(t *testing.T, addrs ...string) *fixture {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	r := router.New(router.Config{ReplicationFactor: 2, MaxRetries: 3, RenewThreshold: 10}, noSource{}, m, zap.NewNop())
	if len(addrs) > 0 {
		nodes := make([]hashring.Node, 0, len(addrs))
		for _, a := range addrs {
			nodes = append(nodes, hashring.Node{Addr: a, Active: true})
		}
		seed := hashring.Seed{Nodes: nodes, Timestamp: clock.NewTimestamp(1, 1)}
		r.Adopt(seed, seed)
	}

	storage := newFakeStorage()
	h := NewHandlers(r, storage, apierrors.NewHandler(zap.NewNop()), zap.NewNop(), time.Second, 16)

	mr := mux.NewRouter()
	mr.HandleFunc("/v1/keys/{key}", h.GetKey).Methods(http.MethodGet)
	mr.HandleFunc("/v1/keys/{key}", h.PutKey).Methods(http.MethodPut)
	mr.HandleFunc("/v1/keys/{key}", h.DeleteKey).Methods(http.MethodDelete)
	mr.HandleFunc("/v1/ring", h.GetRing).Methods(http.MethodGet)

	return &fixture{storage: storage, router: r, mux: mr}
}

func (f *fixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestPutThenGet(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	w := f.do(http.MethodPut, "/v1/keys/user:1", "application/json", `{"value":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	put := decode[converter.WriteKeyHTTPResponse](t, w)
	assert.Equal(t, "user:1", put.Key)
	assert.Equal(t, "100.1", put.Timestamp)

	w = f.do(http.MethodGet, "/v1/keys/user:1", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[converter.GetKeyHTTPResponse](t, w)
	assert.Equal(t, "alice", got.Value)
	assert.Equal(t, put.Node, got.Node, "read and write rings agree so the primary serves both")
}

func TestPutRawBody(t *testing.T) {
	f := newFixture(t, "A")

	w := f.do(http.MethodPut, "/v1/keys/blob", "application/octet-stream", "raw-bytes")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/v1/keys/blob", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "raw-bytes", decode[converter.GetKeyHTTPResponse](t, w).Value)
}

func TestGetMissingKey(t *testing.T) {
	f := newFixture(t, "A", "B")

	w := f.do(http.MethodGet, "/v1/keys/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierrors.ErrorCodeKeyNotFound, decode[apierrors.ErrorResponse](t, w).ErrorCode)
}

func TestDeleteHidesKey(t *testing.T) {
	f := newFixture(t, "A", "B")

	require.Equal(t, http.StatusOK, f.do(http.MethodPut, "/v1/keys/k", "application/json", `{"value":"v"}`).Code)
	w := f.do(http.MethodDelete, "/v1/keys/k", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100.2", decode[converter.WriteKeyHTTPResponse](t, w).Timestamp)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/keys/k", "", "").Code)
}

func TestGetFailsOverToNextReplica(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	w := f.do(http.MethodPut, "/v1/keys/k", "application/json", `{"value":"v"}`)
	require.Equal(t, http.StatusOK, w.Code)
	primary := decode[converter.WriteKeyHTTPResponse](t, w).Node

	for _, n := range []string{"A", "B", "C"} {
		if n != primary {
			f.storage.replicate(primary, n)
		}
	}
	f.storage.down[primary] = true

	w = f.do(http.MethodGet, "/v1/keys/k", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[converter.GetKeyHTTPResponse](t, w)
	assert.Equal(t, "v", got.Value)
	assert.NotEqual(t, primary, got.Node)
}

func TestAllReplicasDown(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	for _, n := range []string{"A", "B", "C"} {
		f.storage.down[n] = true
	}

	w := f.do(http.MethodPut, "/v1/keys/k", "application/json", `{"value":"v"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrorCodeReplicasExhausted, decode[apierrors.ErrorResponse](t, w).ErrorCode)
	assert.Len(t, f.storage.calls, 3)
}

func TestNoHashSpace(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/keys/k", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrorCodeReplicasExhausted, decode[apierrors.ErrorResponse](t, w).ErrorCode)
	assert.Empty(t, f.storage.calls)
}

func TestPutValidation(t *testing.T) {
	f := newFixture(t, "A")

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantStatus  int
		wantCode    apierrors.ErrorCode
	}{
		{"malformed json", "/v1/keys/k", "application/json", `{"value":`, http.StatusBadRequest, apierrors.ErrorCodeInvalidRequest},
		{"missing value", "/v1/keys/k", "application/json", `{}`, http.StatusBadRequest, apierrors.ErrorCodeInvalidRequest},
		{"value too large", "/v1/keys/k", "text/plain", strings.Repeat("x", 17), http.StatusRequestEntityTooLarge, apierrors.ErrorCodeValueTooLarge},
		{"key too long", "/v1/keys/" + strings.Repeat("k", converter.MaxKeySize+1), "text/plain", "v", http.StatusBadRequest, apierrors.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPut, tt.path, tt.contentType, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[apierrors.ErrorResponse](t, w).ErrorCode)
		})
	}
	assert.Empty(t, f.storage.calls)
}

func TestPutJSONValueAtLimit(t *testing.T) {
	f := newFixture(t, "A")

	value := strings.Repeat("x", 16)
	w := f.do(http.MethodPut, "/v1/keys/k", "application/json", `{"value":"`+value+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/v1/keys/k", "", "")
	assert.Equal(t, value, decode[converter.GetKeyHTTPResponse](t, w).Value)
}

func TestGetRing(t *testing.T) {
	f := newFixture(t, "A", "B")

	w := f.do(http.MethodGet, "/v1/ring", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	ring := decode[converter.RingHTTPResponse](t, w)
	assert.Equal(t, "1.1", ring.Write.Timestamp)
	assert.ElementsMatch(t, []hashring.Node{{Addr: "A", Active: true}, {Addr: "B", Active: true}}, ring.Read.Nodes)
}

func TestGetRingBeforeHashSpace(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/ring", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"nodes":[]`)))
}
