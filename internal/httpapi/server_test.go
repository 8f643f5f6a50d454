package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmrettig/tapledger/internal/httpapi"
	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/service"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
	"github.com/jmrettig/tapledger/internal/tapledger/store/memory"
	"github.com/jmrettig/tapledger/internal/tapledger/types"
)

type testEnv struct {
	server     *httptest.Server
	ledger     *memory.LedgerStore
	attendance *memory.AttendanceStore
}

// newTestServer wires up the full dependency graph over in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, knownReaders []string) testEnv {
	t.Helper()

	hasher := chain.SHA256{}
	readers := memory.NewReaderStore(knownReaders)
	heartbeats := memory.NewHeartbeatStore()
	ledger := memory.NewLedgerStore(hasher)
	attendance := memory.NewAttendanceStore()
	corrections := memory.NewCorrectionStore()

	registry := service.NewReaderRegistry(readers)
	ingestSvc := service.NewIngestService(registry, ledger)
	heartbeatSvc := service.NewHeartbeatService(heartbeats, registry)
	correctionSvc := service.NewCorrectionService(attendance, corrections, 20)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            zap.NewNop(),
		Addr:              ":0",
		IngestService:     ingestSvc,
		HeartbeatService:  heartbeatSvc,
		CorrectionService: correctionSvc,
		Attendance:        attendance,
		Ledger:            ledger,
		Hasher:            hasher,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, ledger: ledger, attendance: attendance}
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedEvent(t *testing.T, env testEnv) int64 {
	t.Helper()
	id, err := env.attendance.Append(context.Background(), store.AttendanceRecord{
		EmployeeID:       "emp-001",
		EventKind:        store.TimeOut,
		OccurredAt:       time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
		ReaderID:         "reader-01",
		Verified:         true,
		SourceSequenceID: 1,
	})
	if err != nil {
		t.Fatalf("seed attendance event: %v", err)
	}
	return id
}

// ── Tap ──────────────────────────────────────────────────────────────────────

func TestTap_KnownReader_OK(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/tap", `{"reader_id":"reader-01","card_uid":"AABBCCDD","event_kind":"time_in"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var tapResp types.TapResponse
	if err := json.NewDecoder(resp.Body).Decode(&tapResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !tapResp.OK || !tapResp.Known {
		t.Errorf("expected ok=true known=true, got %+v", tapResp)
	}
	if tapResp.SequenceID != 1 {
		t.Errorf("expected sequence_id=1, got %d", tapResp.SequenceID)
	}
}

func TestTap_UnknownReader_403(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/tap", `{"reader_id":"rogue","card_uid":"AABBCCDD","event_kind":"time_in"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if len(env.ledger.Rows()) != 0 {
		t.Error("unknown reader must not reach the ledger")
	}
}

func TestTap_InvalidEventKind_400(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/tap", `{"reader_id":"reader-01","card_uid":"AABBCCDD","event_kind":"lunch"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTap_UnknownField_400(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/tap", `{"reader_id":"reader-01","card_uid":"AABBCCDD","event_kind":"time_in","extra":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func TestHeartbeat_KnownReader_OK(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/heartbeat", `{"reader_id":"reader-01","uptime_s":42}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hb types.HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&hb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hb.OK || !hb.Known {
		t.Errorf("expected ok=true known=true, got %+v", hb)
	}
}

func TestHeartbeat_UnknownReader_StillAccepted(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	resp := postJSON(t, env.server.URL+"/v1/heartbeat", `{"reader_id":"unknown-device","uptime_s":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hb types.HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&hb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hb.OK {
		t.Error("expected ok=true (heartbeats are accepted from unknown readers)")
	}
	if hb.Known {
		t.Error("expected known=false for an unknown reader")
	}
}

func TestHeartbeat_MissingReaderID_400(t *testing.T) {
	env := newTestServer(t, nil)

	resp := postJSON(t, env.server.URL+"/v1/heartbeat", `{"uptime_s":42}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ── Corrections ──────────────────────────────────────────────────────────────

const correctionBody = `{
	"event_id": %d,
	"corrected_at": "2026-03-02T18:30:00Z",
	"reason": "employee_reported",
	"justification": "employee forgot to tap out before leaving the site",
	"requested_by": "mgr-anna"
}`

func TestCorrection_RequestApproveFlow(t *testing.T) {
	env := newTestServer(t, nil)
	eventID := seedEvent(t, env)

	resp := postJSON(t, env.server.URL+"/v1/corrections", fmt.Sprintf(correctionBody, eventID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "pending" {
		t.Errorf("expected status=pending, got %q", created.Status)
	}

	resp = postJSON(t, env.server.URL+"/v1/corrections/"+created.ID+"/approve", `{"actor_id":"mgr-ben"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}

	var approved struct {
		Status          string   `json:"status"`
		HoursDifference *float64 `json:"hours_difference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&approved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if approved.Status != "approved" {
		t.Errorf("expected status=approved, got %q", approved.Status)
	}
	if approved.HoursDifference == nil || *approved.HoursDifference != 1.5 {
		t.Errorf("expected hours_difference=1.5, got %v", approved.HoursDifference)
	}

	// Effective time now follows the approved correction.
	etResp, err := http.Get(fmt.Sprintf("%s/v1/attendance/%d/effective_time", env.server.URL, eventID))
	if err != nil {
		t.Fatalf("get effective time: %v", err)
	}
	defer etResp.Body.Close()
	var et struct {
		EffectiveTime string `json:"effective_time"`
	}
	if err := json.NewDecoder(etResp.Body).Decode(&et); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if et.EffectiveTime != "2026-03-02T18:30:00Z" {
		t.Errorf("expected corrected effective time, got %q", et.EffectiveTime)
	}

	// A decided correction cannot be decided again.
	resp = postJSON(t, env.server.URL+"/v1/corrections/"+created.ID+"/approve", `{"actor_id":"mgr-carol"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second approve: expected 409, got %d", resp.StatusCode)
	}
}

func TestCorrection_SameActor_403(t *testing.T) {
	env := newTestServer(t, nil)
	eventID := seedEvent(t, env)

	resp := postJSON(t, env.server.URL+"/v1/corrections", fmt.Sprintf(correctionBody, eventID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = postJSON(t, env.server.URL+"/v1/corrections/"+created.ID+"/approve", `{"actor_id":"mgr-anna"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for self-approval, got %d", resp.StatusCode)
	}
}

func TestCorrection_ShortJustification_400(t *testing.T) {
	env := newTestServer(t, nil)
	eventID := seedEvent(t, env)

	body := fmt.Sprintf(`{"event_id":%d,"corrected_at":"2026-03-02T18:30:00Z","reason":"other","justification":"too short","requested_by":"mgr-anna"}`, eventID)
	resp := postJSON(t, env.server.URL+"/v1/corrections", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCorrection_UnknownEvent_404(t *testing.T) {
	env := newTestServer(t, nil)

	resp := postJSON(t, env.server.URL+"/v1/corrections", fmt.Sprintf(correctionBody, 9999))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCorrection_RejectRequiresReason(t *testing.T) {
	env := newTestServer(t, nil)
	eventID := seedEvent(t, env)

	resp := postJSON(t, env.server.URL+"/v1/corrections", fmt.Sprintf(correctionBody, eventID))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = postJSON(t, env.server.URL+"/v1/corrections/"+created.ID+"/reject", `{"actor_id":"mgr-ben"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, env.server.URL+"/v1/corrections/"+created.ID+"/reject", `{"actor_id":"mgr-ben","rejection_reason":"timestamp matches the gate camera"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// ── Query surface ────────────────────────────────────────────────────────────

func TestAttendanceList_FiltersByEmployee(t *testing.T) {
	env := newTestServer(t, nil)
	seedEvent(t, env)

	resp, err := http.Get(env.server.URL + "/v1/attendance?employee_id=emp-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Events []struct {
			EmployeeID string `json:"employee_id"`
			Verified   bool   `json:"verified"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(out.Events))
	}
	if !out.Events[0].Verified {
		t.Error("expected verified=true")
	}
}

func TestAttendanceList_MissingEmployeeID_400(t *testing.T) {
	env := newTestServer(t, nil)

	resp, err := http.Get(env.server.URL + "/v1/attendance")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLedgerVerify_ReportsTamper(t *testing.T) {
	env := newTestServer(t, []string{"reader-01"})

	for _, kind := range []string{"time_in", "time_out"} {
		resp := postJSON(t, env.server.URL+"/v1/tap", fmt.Sprintf(`{"reader_id":"reader-01","card_uid":"AABBCCDD","event_kind":"%s"}`, kind))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("tap: expected 200, got %d", resp.StatusCode)
		}
	}

	verify := func(t *testing.T) (bool, []int64) {
		t.Helper()
		resp, err := http.Get(env.server.URL + "/v1/ledger/verify")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var out struct {
			Validation struct {
				IsValid         bool    `json:"is_valid"`
				FailedSequences []int64 `json:"failed_sequences"`
			} `json:"validation"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.Validation.IsValid, out.Validation.FailedSequences
	}

	if ok, _ := verify(t); !ok {
		t.Fatal("expected a valid chain before tampering")
	}

	env.ledger.Tamper(1, func(r *store.RawLedgerRecord) {
		r.CardUID = "FFFFFFFF"
	})

	ok, failed := verify(t)
	if ok {
		t.Error("expected is_valid=false after tamper")
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Errorf("expected failed_sequences=[1], got %v", failed)
	}
}
