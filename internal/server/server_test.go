package server_test

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/observability"
	"LockerLedger/internal/query"
	"LockerLedger/internal/server"
	"LockerLedger/internal/testutil"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newService(e *testutil.Engine) *server.LockerService {
	q := query.NewQueryService(e.D, nil, e.Now, nil)
	return server.NewLockerService(e.D, q, e.Now, zerolog.Nop())
}

func createBody(e *testutil.Engine, tokenID uint64) map[string]interface{} {
	return map[string]interface{}{
		"borrower":       e.Borrower.String(),
		"currency":       testutil.Currency,
		"registry":       testutil.Registry,
		"token_ids":      []interface{}{tokenID},
		"floor_asked":    1000,
		"delta":          500,
		"funding_window": "720h",
		"payment_rate":   100,
	}
}

// ============================================================
// gRPC
// ============================================================

func dialBufconn(t *testing.T, svc *server.LockerService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer("bufnet", "", svc, nil)
	srv.SetServing(true)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/lockerledger.v1.LockerService/"+method, req, out)
	return out, err
}

func TestGRPC_CreateContributeGet(t *testing.T) {
	e := testutil.NewEngine(t)
	conn := dialBufconn(t, newService(e))

	created, err := invoke(conn, "CreateLocker", createBody(e, 1))
	require.NoError(t, err)
	assert.Equal(t, float64(0), created.Fields["sequence"].GetNumberValue())
	id := created.Fields["locker"].GetStructValue().Fields["id"].GetStringValue()
	require.NotEmpty(t, id)

	_, err = invoke(conn, "Contribute", map[string]interface{}{
		"locker_id": id,
		"caller":    e.Funders[0].String(),
		"amount":    400,
	})
	require.NoError(t, err)

	got, err := invoke(conn, "GetLocker", map[string]interface{}{"locker_id": id})
	require.NoError(t, err)
	assert.Equal(t, float64(400), got.Fields["total_collected"].GetNumberValue())
	assert.Equal(t, "Funding", got.Fields["state"].GetStringValue())
}

func TestGRPC_ErrorCodes(t *testing.T) {
	e := testutil.NewEngine(t)
	conn := dialBufconn(t, newService(e))

	_, err := invoke(conn, "GetLocker", map[string]interface{}{"locker_id": uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(conn, "GetLocker", map[string]interface{}{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(conn, "Execute", map[string]interface{}{
		"op":        "withdraw",
		"locker_id": uuid.NewString(),
		"caller":    uuid.NewString(),
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// ============================================================
// HTTP gateway
// ============================================================

func newHTTP(t *testing.T, e *testutil.Engine) *httptest.Server {
	t.Helper()
	hc := observability.NewHealthChecker()
	srv := server.NewGRPCServer("", "", newService(e), hc)
	h, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, body interface{}, key string) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHTTP_LockerLifecycle(t *testing.T) {
	e := testutil.NewEngine(t)
	ts := newHTTP(t, e)

	resp, body := post(t, ts, "/v1/lockers", createBody(e, 2), "create-2")
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["locker"].(map[string]interface{})["id"].(string)

	resp, body = post(t, ts, "/v1/lockers", createBody(e, 2), "create-2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])

	resp, body = post(t, ts, "/v1/lockers/"+id+"/contribute", map[string]interface{}{
		"caller": e.Funders[0].String(),
		"amount": 1500,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	// Funded to the cap: the borrower enables the locker.
	resp, body = post(t, ts, "/v1/lockers/"+id+"/enable", map[string]interface{}{
		"caller": e.Borrower.String(),
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = get(t, ts, "/v1/lockers/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, locker.StateActive.String(), body["state"])

	resp, body = get(t, ts, "/v1/lockers?state=Active")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["lockers"], 1)
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	e := testutil.NewEngine(t)
	ts := newHTTP(t, e)
	id := e.Create(t, 3)

	resp, _ := post(t, ts, fmt.Sprintf("/v1/lockers/%s/withdraw", id), map[string]interface{}{
		"caller": e.Funders[0].String(),
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, ts, fmt.Sprintf("/v1/lockers/%s/contribute", id), map[string]interface{}{
		"caller": e.Funders[0].String(),
		"amount": 100,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := post(t, ts, fmt.Sprintf("/v1/lockers/%s/contribute", id), map[string]interface{}{
		"caller": e.Funders[0].String(),
		"amount": 100,
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codes.AlreadyExists.String(), body["code"])

	resp, _ = get(t, ts, "/v1/lockers/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, ts, "/v1/lockers/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, ts, fmt.Sprintf("/v1/lockers/%s/history", id))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTP_Readiness(t *testing.T) {
	e := testutil.NewEngine(t)
	ts := newHTTP(t, e)

	resp, body := get(t, ts, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, _ = get(t, ts, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// ============================================================
// Error mapping
// ============================================================

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", locker.ErrInvalidOwner), codes.PermissionDenied},
		{fmt.Errorf("x: %w", locker.ErrInvalidSender), codes.PermissionDenied},
		{fmt.Errorf("x: %w", locker.ErrTooEarly), codes.FailedPrecondition},
		{fmt.Errorf("x: %w", locker.ErrFloorReached), codes.FailedPrecondition},
		{fmt.Errorf("x: %w", locker.ErrProviderExists), codes.AlreadyExists},
		{fmt.Errorf("x: %w", locker.ErrMinimumPayoff), codes.InvalidArgument},
		{fmt.Errorf("x: %w", core.ErrNotFound), codes.NotFound},
		{fmt.Errorf("x: %w", ingestion.ErrMalformed), codes.InvalidArgument},
		{query.ErrHistoryUnavailable, codes.Unavailable},
		{status.Error(codes.Unauthenticated, "no"), codes.Unauthenticated},
		{fmt.Errorf("disk on fire"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, server.CodeOf(tc.err), "err=%v", tc.err)
	}
}
