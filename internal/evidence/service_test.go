package evidence_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/forensicedr/forensicedr/internal/custody"
	"github.com/forensicedr/forensicedr/internal/encryption"
	"github.com/forensicedr/forensicedr/internal/evidence"
	"go.uber.org/zap"
)

var ctx = context.Background()

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// ── Stub store ────────────────────────────────────────────────────────────

type stubEventStore struct {
	mu     sync.Mutex
	events map[string]*evidence.CrashEvent
	failOn string
}

func newStubEventStore() *stubEventStore {
	return &stubEventStore{events: make(map[string]*evidence.CrashEvent)}
}

func (s *stubEventStore) InsertEvent(_ context.Context, ev *evidence.CrashEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "insert" {
		return errors.New("store down")
	}
	if _, exists := s.events[ev.EventID]; exists {
		return evidence.ErrDuplicateEvent
	}
	cp := *ev
	s.events[ev.EventID] = &cp
	return nil
}

func (s *stubEventStore) GetByEventID(_ context.Context, eventID string) (*evidence.CrashEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *stubEventStore) GetTelemetry(_ context.Context, eventID string) ([]evidence.TelemetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[eventID]; ok {
		return ev.RawData, nil
	}
	return nil, nil
}

func (s *stubEventStore) List(_ context.Context, f evidence.ListFilter) ([]*evidence.CrashEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*evidence.CrashEvent
	for _, ev := range s.events {
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubEventStore) Nearby(_ context.Context, _, _, _ float64) ([]*evidence.CrashEvent, error) {
	return nil, nil
}

// ── Fixtures ──────────────────────────────────────────────────────────────

func newTestService(t *testing.T) (*evidence.Service, *stubEventStore, *custody.Ledger) {
	t.Helper()
	key, err := encryption.ParseKey(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	store := newStubEventStore()
	ledger := custody.NewLedger(custody.NewMemoryStore(), zap.NewNop())
	return evidence.NewService(store, ledger, key, zap.NewNop()), store, ledger
}

func sealedCrashEvent(t *testing.T, eventID string) []byte {
	t.Helper()
	payload := map[string]any{
		"event_id":    eventID,
		"timestamp":   time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC).Format(time.RFC3339),
		"crash_event": "frontal impact detected",
		"crash_type":  "frontal_impact_collision",
		"severity":    "severe",
		"location":    map[string]any{"latitude": 47.61, "longitude": -122.33, "address": "5th Ave"},
		"calculated_values": map[string]any{
			"impact_force_g": 6.2,
			"airbag_status":  "DEPLOYED",
		},
		"metadata": map[string]any{
			"device_id":           "EDR-DEVICE-7",
			"firmware_version":    "1.0.0",
			"buffer_seconds":      60,
			"window_size":         10,
			"detection_algorithm": "rule_based_v1",
		},
		"raw_data": []map[string]any{
			{"timestamp": "2026-03-02T14:04:59Z", "speed": 82.5, "rpm": 3100, "throttle_pos": 40,
				"latitude": 47.61, "longitude": -122.33, "accel_x": -9.1, "accel_y": 0.2, "accel_z": 1.1,
				"airbag_status": "DEPLOYED", "power_status": "ON", "tilt": 2.0,
				"total_acceleration": 9.3, "angular_acceleration": 0.4, "hard_brake_event": 1},
		},
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	key, _ := encryption.ParseKey(testKeyHex)
	envelope, err := encryption.Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return envelope
}

func edgeCustodyLog(t *testing.T, eventID string) []byte {
	t.Helper()
	e := &custody.Entry{
		EntryID:       "custody_20260302140500000001_edge0001",
		Timestamp:     time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC),
		EventID:       eventID,
		Action:        custody.ActionEvidenceCollection,
		Actor:         "EDR-DEVICE-7",
		ActorType:     custody.ActorEdgeDevice,
		Location:      "VEHICLE_UNIT",
		Details:       map[string]any{"collection": "automatic"},
		PreviousHash:  custody.Genesis,
		HashAlgorithm: custody.HashAlgorithm,
		Verified:      true,
	}
	h, err := custody.HashEntry(e)
	if err != nil {
		t.Fatal(err)
	}
	e.EntryHash = h
	raw, _ := json.Marshal(e)
	return raw
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestUpload_storesEventAndAppendsReceipt(t *testing.T) {
	svc, store, ledger := newTestService(t)

	ev, err := svc.Upload(ctx, evidence.UploadInput{
		Filename:    "evt_001.bin",
		ContentType: "application/octet-stream",
		Envelope:    sealedCrashEvent(t, "EVT-001"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventID != "EVT-001" || ev.Severity != evidence.SeveritySevere {
		t.Errorf("decoded event wrong: %+v", ev)
	}
	if _, ok := store.events["EVT-001"]; !ok {
		t.Fatal("event not stored")
	}

	chain, err := ledger.GetChain(ctx, "EVT-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 1 {
		t.Fatalf("expected 1 custody entry, got %d", len(chain))
	}
	receipt := chain[0]
	if receipt.Action != custody.ActionTransfer || receipt.Actor != "CLOUD_API" {
		t.Errorf("receipt entry wrong: %+v", receipt)
	}
	if res, _ := ledger.Verify(ctx, "EVT-001"); !res.Valid {
		t.Errorf("chain invalid after upload: %+v", res)
	}
}

func TestUpload_adoptsEdgeCustodyLog(t *testing.T) {
	svc, _, ledger := newTestService(t)

	_, err := svc.Upload(ctx, evidence.UploadInput{
		Filename:       "evt_002.bin",
		Envelope:       sealedCrashEvent(t, "EVT-002"),
		EdgeCustodyLog: edgeCustodyLog(t, "EVT-002"),
	})
	if err != nil {
		t.Fatal(err)
	}

	chain, _ := ledger.GetChain(ctx, "EVT-002")
	if len(chain) != 2 {
		t.Fatalf("expected edge entry + receipt, got %d entries", len(chain))
	}
	if chain[0].Action != custody.ActionEvidenceCollection || chain[0].ActorType != custody.ActorEdgeDevice {
		t.Errorf("first link should be the edge collection entry: %+v", chain[0])
	}
	if chain[1].PreviousHash != chain[0].EntryHash {
		t.Errorf("receipt does not chain onto the edge entry")
	}
	if res, _ := ledger.Verify(ctx, "EVT-002"); !res.Valid || res.ChainLength != 2 {
		t.Errorf("chain: %+v", res)
	}
}

func TestUpload_skipsMalformedEdgeLog(t *testing.T) {
	svc, _, ledger := newTestService(t)

	_, err := svc.Upload(ctx, evidence.UploadInput{
		Envelope:       sealedCrashEvent(t, "EVT-003"),
		EdgeCustodyLog: []byte("{not json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	chain, _ := ledger.GetChain(ctx, "EVT-003")
	if len(chain) != 1 {
		t.Errorf("malformed edge log must be skipped, got %d entries", len(chain))
	}
	if res, _ := ledger.Verify(ctx, "EVT-003"); !res.Valid {
		t.Errorf("chain: %+v", res)
	}
}

func TestUpload_rejectsForgedEnvelope(t *testing.T) {
	svc, store, ledger := newTestService(t)

	envelope := sealedCrashEvent(t, "EVT-004")
	envelope[len(envelope)-1] ^= 0x01

	_, err := svc.Upload(ctx, evidence.UploadInput{Envelope: envelope})
	if !errors.Is(err, encryption.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if len(store.events) != 0 {
		t.Error("forged envelope must not store an event")
	}
	if chain, _ := ledger.GetChain(ctx, "EVT-004"); len(chain) != 0 {
		t.Error("forged envelope must not produce custody entries")
	}
}

func TestUpload_rejectsPayloadWithoutEventID(t *testing.T) {
	svc, _, _ := newTestService(t)
	key, _ := encryption.ParseKey(testKeyHex)
	envelope, _ := encryption.Seal(key, []byte(`{"timestamp":"2026-03-02T14:05:00Z"}`))

	_, err := svc.Upload(ctx, evidence.UploadInput{Envelope: envelope})
	if !errors.Is(err, evidence.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestUpload_duplicateEventID(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Upload(ctx, evidence.UploadInput{Envelope: sealedCrashEvent(t, "EVT-005")}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Upload(ctx, evidence.UploadInput{Envelope: sealedCrashEvent(t, "EVT-005")})
	if !errors.Is(err, evidence.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestGet_attestsAccess(t *testing.T) {
	svc, _, ledger := newTestService(t)

	if _, err := svc.Upload(ctx, evidence.UploadInput{Envelope: sealedCrashEvent(t, "EVT-006")}); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Get(ctx, "EVT-006", "ANALYST-42")
	if err != nil {
		t.Fatal(err)
	}
	if rec.CrashEvent.EventID != "EVT-006" {
		t.Errorf("wrong event returned")
	}
	if len(rec.Telemetry) != 1 {
		t.Errorf("expected telemetry buffer, got %d records", len(rec.Telemetry))
	}

	last := rec.CustodyChain[len(rec.CustodyChain)-1]
	if last.Action != custody.ActionAccess || last.Actor != "ANALYST-42" {
		t.Errorf("read was not attested: %+v", last)
	}
	if res, _ := ledger.Verify(ctx, "EVT-006"); !res.Valid {
		t.Errorf("chain: %+v", res)
	}
}

func TestUpload_storeFailureLeavesNoCustodyEntry(t *testing.T) {
	svc, store, ledger := newTestService(t)
	store.failOn = "insert"

	if _, err := svc.Upload(ctx, evidence.UploadInput{
		Filename: "crash.bin",
		Envelope: sealedCrashEvent(t, "EVT-010"),
	}); err == nil {
		t.Fatal("expected upload error when store is down")
	}

	if chain, _ := ledger.GetChain(ctx, "EVT-010"); len(chain) != 0 {
		t.Errorf("custody chain has %d entries for unstored event", len(chain))
	}
}

func TestGet_unknownEvent(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Get(ctx, "EVT-NONE", "ANALYST"); !errors.Is(err, evidence.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
