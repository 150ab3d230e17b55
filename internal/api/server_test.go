package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/bundle"
	"github.com/samcharles93/gpuadvisor/internal/cct"
)

// saxpyBundle is a two-block kernel whose FADD waits on a global load and an
// FFMA, followed by an FMUL stalled on its pipe.
func saxpyBundle(t *testing.T, archName string) string {
	t.Helper()
	doc := bundle.Document{
		Architecture: archName,
		Functions: []bundle.Function{{ID: 0, Name: "saxpy", Blocks: []bundle.Block{
			{ID: 0, Targets: []bundle.Target{{Block: 1, Kind: "fallthrough"}}, Instructions: []bundle.Instruction{
				{Addr: 0x00, Opcode: "LDG.E.MEMORY.GLOBAL", Dsts: []string{"R1"}},
				{Addr: 0x10, Opcode: "FFMA", Dsts: []string{"R2"}},
				{Addr: 0x20, Opcode: "IADD3", Dsts: []string{"R3"}},
				{Addr: 0x30, Opcode: "FADD", Dsts: []string{"R4"}, Srcs: []string{"R1", "R2"},
					Producers: map[string][]bundle.Address{"R1": {0x00}, "R2": {0x10}}},
			}},
			{ID: 1, Instructions: []bundle.Instruction{
				{Addr: 0x40, Opcode: "FMUL", Dsts: []string{"R5"}, Srcs: []string{"R4"},
					Producers: map[string][]bundle.Address{"R4": {0x30}}},
			}},
		}}},
		Profiles: []bundle.Profile{
			{Rank: 0, Thread: 0, Samples: []bundle.Sample{
				{Addr: 0x30, Values: map[string]float64{
					cct.InstMetric: 10, cct.IssueMetric: 5, cct.StallMetric: 10, cct.ExecDepStall: 6, cct.MemDepStall: 4,
				}},
				{Addr: 0x40, Values: map[string]float64{
					cct.InstMetric: 2, cct.IssueMetric: 2, cct.StallMetric: 3, cct.PipeBusyStall: 3,
				}},
			}},
			{Rank: 0, Thread: 1},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	return string(raw)
}

func newTestEcho(cfg Config) (*echo.Echo, *Server) {
	server := NewServer(cfg, WithRegistry(prometheus.NewRegistry()))
	e := echo.New()
	server.Register(e)
	return e, server
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

type errorResp struct {
	Error ErrorBody `json:"error"`
}

func TestAnalysisLifecycle(t *testing.T) {
	t.Parallel()

	e, server := newTestEcho(Config{})
	created := doJSON(t, e, http.MethodPost, "/v1/analyses", saxpyBundle(t, "sm_70"))
	if created.Code != http.StatusCreated {
		t.Fatalf("create status: got %d body=%s", created.Code, created.Body.String())
	}
	res := decodeBody[advisor.Result](t, created)
	if res.RunID == uuid.Nil || res.Architecture != "sm_70" {
		t.Fatalf("result header: %+v", res)
	}
	if res.AnalyzedPairs != 1 || res.SkippedPairs != 1 {
		t.Fatalf("pairs: analyzed %d skipped %d", res.AnalyzedPairs, res.SkippedPairs)
	}
	if len(res.Advice) == 0 || res.Advice[0].Rule != "memory-layout" {
		t.Fatalf("advice: %+v", res.Advice)
	}

	path := "/v1/analyses/" + res.RunID.String()
	got := doJSON(t, e, http.MethodGet, path, "")
	if got.Code != http.StatusOK {
		t.Fatalf("get status: got %d", got.Code)
	}
	if fetched := decodeBody[advisor.Result](t, got); fetched.RunID != res.RunID {
		t.Fatalf("get returned run %s want %s", fetched.RunID, res.RunID)
	}

	list := decodeBody[struct {
		Data []Summary `json:"data"`
	}](t, doJSON(t, e, http.MethodGet, "/v1/analyses", ""))
	if len(list.Data) != 1 || list.Data[0].ID != res.RunID || list.Data[0].TopRule != "memory-layout" {
		t.Fatalf("list: %+v", list.Data)
	}

	deleted := doJSON(t, e, http.MethodDelete, path, "")
	if deleted.Code != http.StatusOK || !decodeBody[DeleteAnalysisResp](t, deleted).Deleted {
		t.Fatalf("delete: got %d body=%s", deleted.Code, deleted.Body.String())
	}
	if server.Store().Len() != 0 {
		t.Fatalf("store still holds %d analyses", server.Store().Len())
	}
	if gone := doJSON(t, e, http.MethodGet, path, ""); gone.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", gone.Code)
	}
}

func TestCreateAnalysisErrors(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{MaxBodyBytes: 4096})
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed", "/v1/analyses", `{"functions":`, http.StatusBadRequest},
		{"unknown architecture", "/v1/analyses", saxpyBundle(t, "sm_10"), http.StatusBadRequest},
		{"override architecture", "/v1/analyses?architecture=pascal", saxpyBundle(t, "sm_70"), http.StatusBadRequest},
		{"bad workers", "/v1/analyses?workers=zero", saxpyBundle(t, "sm_70"), http.StatusBadRequest},
		{"negative stall", "/v1/analyses", `{"architecture": "sm_70", "functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": 0, "opcode": "FADD", "dsts": ["R1"]}]}]}], "profiles": [{"rank": 0, "thread": 0, "samples": [{"addr": 0, "values": {"GINST": 1, "GINST:STL_IDEP": -5}}]}]}`, http.StatusBadRequest},
		{"too large", "/v1/analyses", `{"functions": [], "profiles": [], "architecture": "` + strings.Repeat("x", 5000) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: got %d want %d body=%s", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		body := decodeBody[errorResp](t, rec)
		if body.Error.Message == "" || body.Error.Type != "invalid_request_error" {
			t.Fatalf("%s: error body %+v", tc.name, body)
		}
	}
}

func TestGetAnalysisErrors(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{})
	if rec := doJSON(t, e, http.MethodGet, "/v1/analyses/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id: got %d", rec.Code)
	}
	rec := doJSON(t, e, http.MethodDelete, "/v1/analyses/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: got %d", rec.Code)
	}
	if body := decodeBody[errorResp](t, rec); body.Error.Type != "not_found_error" {
		t.Fatalf("unknown id error: %+v", body)
	}
}

func TestQueryOverrides(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{Engine: advisor.Config{Architecture: "sm_80"}})
	rec := doJSON(t, e, http.MethodPost, "/v1/analyses?architecture=t4&top_rules=1&workers=2", saxpyBundle(t, ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body=%s", rec.Code, rec.Body.String())
	}
	res := decodeBody[advisor.Result](t, rec)
	if res.Architecture != "sm_75" || len(res.Advice) != 1 {
		t.Fatalf("overrides ignored: arch %s advice %d", res.Architecture, len(res.Advice))
	}

	// Without an override or a bundle architecture the server default applies.
	res = decodeBody[advisor.Result](t, doJSON(t, e, http.MethodPost, "/v1/analyses", saxpyBundle(t, "")))
	if res.Architecture != "sm_80" {
		t.Fatalf("default architecture: got %s", res.Architecture)
	}
}

func TestArchitectures(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{})
	list := decodeBody[struct {
		Data []Architecture `json:"data"`
	}](t, doJSON(t, e, http.MethodGet, "/v1/architectures", ""))
	if len(list.Data) != 4 || list.Data[0].Name != "sm_70" || list.Data[0].Device != "V100" {
		t.Fatalf("architectures: %+v", list.Data)
	}
	for _, a := range list.Data {
		if len(a.Aliases) == 0 || a.InstSize != 16 {
			t.Fatalf("architecture %s incomplete: %+v", a.Name, a)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{})
	doJSON(t, e, http.MethodPost, "/v1/analyses", saxpyBundle(t, "sm_70"))
	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`gpuadvisor_pairs_total{outcome="analyzed"} 1`,
		`gpuadvisor_analyses_total{status="completed"} 1`,
		`gpuadvisor_stored_analyses 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics lack %q:\n%s", want, body)
		}
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(Config{RateLimit: 0.001, RateBurst: 2})
	for i := range 2 {
		if rec := doJSON(t, e, http.MethodGet, "/v1/architectures", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
	rec := doJSON(t, e, http.MethodGet, "/v1/architectures", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d", rec.Code)
	}
	if body := decodeBody[errorResp](t, rec); body.Error.Type != "rate_limit_error" {
		t.Fatalf("rate limit body: %+v", body)
	}
	// Metrics sit outside the limited group.
	if rec := doJSON(t, e, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics limited: got %d", rec.Code)
	}
}

func TestStoreEviction(t *testing.T) {
	t.Parallel()

	s := NewAnalysisStore(2)
	now := time.Unix(1700000000, 0)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		evicted := s.Save(&advisor.Result{RunID: ids[i]}, now)
		if i < 2 && len(evicted) != 0 {
			t.Fatalf("save %d evicted %v", i, evicted)
		}
		if i == 2 && (len(evicted) != 1 || evicted[0] != ids[0]) {
			t.Fatalf("save 2 evicted %v want %v", evicted, ids[0])
		}
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Fatal("oldest analysis still stored")
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != ids[1] || list[1].ID != ids[2] || list[0].CreatedAt != now.Unix() {
		t.Fatalf("list: %+v", list)
	}
	if !s.Delete(ids[1]) || s.Delete(ids[1]) || s.Len() != 1 {
		t.Fatal("delete bookkeeping broken")
	}
}
