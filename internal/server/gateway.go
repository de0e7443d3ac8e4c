package server

import (
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/query"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	maxBodyBytes         = 1 << 20
	idempotencyKeyHeader = "Idempotency-Key"
)

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// RegisterRoutes adds the HTTP/JSON routes to mux. The gateway mux tries the
// most recently registered route first, so the fixed contribute and payback
// paths are registered after the generic operation path.
func RegisterRoutes(mux *runtime.ServeMux, s *LockerService) error {
	h := &httpHandlers{s: s}
	routes := []route{
		{"POST", "/v1/lockers", h.create},
		{"POST", "/v1/lockers/{id}/{op}", h.execute},
		{"POST", "/v1/lockers/{id}/contribute", h.transfer(ingestion.KindContribute)},
		{"POST", "/v1/lockers/{id}/payback", h.transfer(ingestion.KindPayback)},
		{"GET", "/v1/lockers", h.list},
		{"GET", "/v1/lockers/{id}", h.get},
		{"GET", "/v1/lockers/{id}/history", h.history},
		{"GET", "/v1/accounts/{id}/positions", h.positions},
		{"GET", "/v1/accounts/{id}/transfers", h.transfers},
		{"GET", "/v1/admin/integrity", h.integrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

type httpHandlers struct {
	s *LockerService
}

func (h *httpHandlers) create(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := readBody(w, r, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.s.Apply(r.Context(), ingestion.KindCreate, body, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if resp.Duplicate {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

func (h *httpHandlers) transfer(kind string) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		h.apply(w, r, kind, map[string]string{"locker_id": params["id"]})
	}
}

func (h *httpHandlers) execute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	h.apply(w, r, ingestion.KindOp, map[string]string{"locker_id": params["id"], "op": params["op"]})
}

func (h *httpHandlers) apply(w http.ResponseWriter, r *http.Request, kind string, fromPath map[string]string) {
	body, err := readBody(w, r, fromPath)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.s.Apply(r.Context(), kind, body, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) get(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.s.queries.GetLocker(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *httpHandlers) list(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	f := query.ListFilter{State: q.Get("state"), Currency: q.Get("currency")}
	if b := q.Get("borrower"); b != "" {
		id, err := uuid.Parse(b)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid borrower: %v", err))
			return
		}
		f.Borrower = id
	}

	lockers, err := h.s.queries.ListLockers(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lockers": lockers})
}

func (h *httpHandlers) history(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, before, err := paging(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.s.queries.GetHistory(r.Context(), id, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *httpHandlers) positions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		writeError(w, err)
		return
	}
	positions, err := h.s.queries.GetPositions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (h *httpHandlers) transfers(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, before, err := paging(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.s.queries.GetTransfers(r.Context(), id, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": entries})
}

func (h *httpHandlers) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// readBody returns the request JSON object with the path values set on it.
// An empty body is treated as {}.
func readBody(w http.ResponseWriter, r *http.Request, fromPath map[string]string) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ingestion.ErrMalformed, err)
	}
	if len(fromPath) == 0 {
		return data, nil
	}

	fields := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: body must be a JSON object: %v", ingestion.ErrMalformed, err)
		}
	}
	for k, v := range fromPath {
		quoted, _ := json.Marshal(v)
		fields[k] = quoted
	}
	return json.Marshal(fields)
}

func pathID(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid id: %v", err)
	}
	return id, nil
}

func paging(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err)
		}
		limit = n
	}
	var before *int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "invalid before: %v", err)
		}
		before = &n
	}
	return limit, before, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	msg := err.Error()
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		msg = se.GRPCStatus().Message()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{Code: code.String(), Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
