package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forensicedr/forensicedr/internal/custody"
	"github.com/forensicedr/forensicedr/internal/encryption"
	"go.uber.org/zap"
)

// ErrInvalidPayload is returned when a decrypted envelope does not contain a
// usable crash event.
var ErrInvalidPayload = errors.New("evidence: invalid payload")

// EventStore is the persistence interface the service depends on.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *CrashEvent) error
	GetByEventID(ctx context.Context, eventID string) (*CrashEvent, error)
	GetTelemetry(ctx context.Context, eventID string) ([]TelemetryRecord, error)
	List(ctx context.Context, f ListFilter) ([]*CrashEvent, error)
	Nearby(ctx context.Context, lat, lon, radiusKM float64) ([]*CrashEvent, error)
}

// CustodyLedger is the slice of the custody ledger the service uses: it
// appends the cloud receipt and adopts edge-device custody logs. The ledger
// refuses evidence that failed decrypt-and-verify because the service never
// reaches it on that path.
type CustodyLedger interface {
	Append(ctx context.Context, eventID string, action custody.Action, actor, location string, details map[string]any, opts ...custody.AppendOption) (*custody.Entry, error)
	Import(ctx context.Context, e *custody.Entry) error
	GetChain(ctx context.Context, eventID string) ([]*custody.Entry, error)
}

// Service implements the evidence upload and query flows.
type Service struct {
	store  EventStore
	ledger CustodyLedger
	key    []byte
	logger *zap.Logger
}

// NewService creates a Service. key is the raw 32-byte AES evidence key.
func NewService(store EventStore, ledger CustodyLedger, key []byte, logger *zap.Logger) *Service {
	return &Service{store: store, ledger: ledger, key: key, logger: logger}
}

// UploadInput carries one encrypted evidence upload.
type UploadInput struct {
	Filename    string
	ContentType string
	Envelope    []byte
	// EdgeCustodyLog is the edge device's own custody entry for this
	// evidence, shipped alongside the envelope. Optional.
	EdgeCustodyLog []byte
}

// Upload decrypts and verifies an evidence envelope, stores the crash event
// and its telemetry, adopts the edge custody log when provided, and appends
// the cloud TRANSFER receipt to the event's custody chain.
//
// An envelope that fails authentication never produces a stored event or a
// custody entry.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*CrashEvent, error) {
	plaintext, err := encryption.Open(s.key, in.Envelope)
	if err != nil {
		return nil, err
	}

	ev := &CrashEvent{}
	if err := json.Unmarshal(plaintext, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrInvalidPayload)
	}
	if ev.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidPayload)
	}
	if ev.CrashType != "" && !ev.CrashType.Valid() {
		return nil, fmt.Errorf("%w: unknown crash_type %q", ErrInvalidPayload, ev.CrashType)
	}
	if ev.Severity != "" && !ev.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidPayload, ev.Severity)
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.logger.Info("crash event stored",
		zap.String("event_id", ev.EventID),
		zap.String("severity", string(ev.Severity)),
		zap.Int("telemetry_records", len(ev.RawData)),
	)

	edgeLogAdopted := s.adoptEdgeLog(ctx, ev.EventID, in.EdgeCustodyLog)

	_, err = s.ledger.Append(ctx, ev.EventID, custody.ActionTransfer, "CLOUD_API", "CLOUD_SERVER",
		map[string]any{
			"upload_info": map[string]any{
				"filename":          in.Filename,
				"file_size":         float64(len(in.Envelope)),
				"content_type":      in.ContentType,
				"edge_log_received": edgeLogAdopted,
			},
		})
	if err != nil {
		// The evidence is already durable; surface the custody failure
		// rather than pretending the chain was extended.
		return nil, fmt.Errorf("append transfer receipt for %s: %w", ev.EventID, err)
	}

	return ev, nil
}

// adoptEdgeLog imports the edge device's custody entry ahead of the cloud
// receipt. Malformed or duplicate edge logs are logged and skipped — the
// upload itself still succeeds, mirroring the device's at-least-once retry
// behavior.
func (s *Service) adoptEdgeLog(ctx context.Context, eventID string, raw []byte) bool {
	if len(raw) == 0 {
		return false
	}

	entry := &custody.Entry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		s.logger.Error("edge custody log is not valid JSON", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	if entry.EventID == "" {
		entry.EventID = eventID
	}
	if entry.EventID != eventID {
		s.logger.Error("edge custody log names a different event",
			zap.String("event_id", eventID),
			zap.String("edge_event_id", entry.EventID),
		)
		return false
	}

	if err := s.ledger.Import(ctx, entry); err != nil {
		if errors.Is(err, custody.ErrDuplicateEntry) {
			s.logger.Warn("edge custody log already stored",
				zap.String("event_id", eventID),
				zap.String("entry_id", entry.EntryID),
			)
			return true
		}
		s.logger.Error("edge custody log rejected", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return true
}

// FullRecord is the complete view of one event: the crash record, its raw
// telemetry, and its custody chain.
type FullRecord struct {
	CrashEvent   *CrashEvent       `json:"crash_event"`
	Telemetry    []TelemetryRecord `json:"telemetry,omitempty"`
	CustodyChain []*custody.Entry  `json:"custody_chain"`
}

// Get returns the full record for an event, appending an ACCESS entry to the
// custody chain so the read itself is attested.
func (s *Service) Get(ctx context.Context, eventID, accessor string) (*FullRecord, error) {
	ev, err := s.store.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	telemetry, err := s.store.GetTelemetry(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Append(ctx, eventID, custody.ActionAccess, accessor, "CLOUD_SERVER",
		map[string]any{"access": "full_record"}); err != nil {
		s.logger.Warn("access entry not recorded", zap.String("event_id", eventID), zap.Error(err))
	}

	chain, err := s.ledger.GetChain(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &FullRecord{CrashEvent: ev, Telemetry: telemetry, CustodyChain: chain}, nil
}

// List returns crash events matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*CrashEvent, error) {
	return s.store.List(ctx, f)
}

// Nearby returns crash events within radiusKM of the given point.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKM float64) ([]*CrashEvent, error) {
	return s.store.Nearby(ctx, lat, lon, radiusKM)
}
