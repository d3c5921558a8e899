package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/store/sqlite"
)

type testServer struct {
	Handler *Handler
	Router  http.Handler
	Store   *sqlite.Store
	Hook    *test.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	svc := payroll.NewService(store, payroll.Options{
		DisputeTolerance: payroll.DefaultDisputeTolerance,
		Records:          store,
		Log:              log,
	})
	h := NewHandler(store, svc, log)
	return &testServer{Handler: h, Router: NewRouter(h, nil), Store: store, Hook: hook}
}

// do sends a request with body encoded as JSON (no body when nil).
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

// expect asserts the status and decodes the body into out (if non-nil).
func expect(t *testing.T, w *httptest.ResponseRecorder, status int, out any) {
	t.Helper()
	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
}

func (s *testServer) seedEmployee(t *testing.T, id, name string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: id, Name: name, HireDate: "2024-01-15"})
	expect(t, w, http.StatusCreated, nil)
}

func (s *testServer) seedRateCard(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/work-units", json.RawMessage(`{
		"name": "Test card",
		"units": [
			{"id": "walls", "task_type": "Wall plastering", "rate_per_m2": 18},
			{"id": "walls-corners", "task_type": "Walls with corner beads", "rate_per_m2": 18, "rate_per_ml": 15}
		]
	}`))
	expect(t, w, http.StatusCreated, nil)
}

func (s *testServer) recordWork(t *testing.T, emp, unit, m2, ml string) payroll.WorkRecord {
	t.Helper()
	var rec payroll.WorkRecord
	w := s.do(t, http.MethodPost, "/api/employees/"+emp+"/work-records", RecordWorkRequest{
		Period:       "2025-03",
		LocationRef:  "A-12",
		WorkUnitID:   unit,
		MetersSquare: payroll.MustDecimal(m2),
		MetersLinear: payroll.MustDecimal(ml),
	})
	expect(t, w, http.StatusCreated, &rec)
	return rec
}

func (s *testServer) payroll(t *testing.T, emp, period string) payroll.PayrollRecord {
	t.Helper()
	var rec payroll.PayrollRecord
	expect(t, s.do(t, http.MethodGet, "/api/employees/"+emp+"/payroll/"+period, nil), http.StatusOK, &rec)
	return rec
}
