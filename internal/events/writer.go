package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"specline/internal/domain"
)

const (
	TypeSpecCreated      = "spec.created"
	TypeSpecTransitioned = "spec.transitioned"
	TypeSpecForced       = "spec.forced"
	TypeSpecStarted      = "spec.started"
	TypeSpecCompleted    = "spec.completed"
	TypeSpecFailed       = "spec.failed"
	TypeSpecReset        = "spec.reset"
	TypeSpecArchived     = "spec.archived"
	TypeDriverCascaded   = "driver.cascaded"
	TypeStaleCleaned     = "spec.stale_cleaned"
	TypeMergeReconciled  = "merge.reconciled"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes one event outside any caller transaction.
func (w Writer) Append(ctx context.Context, evtType, specID, actor string, payload EventPayload) (domain.Event, error) {
	return w.append(ctx, w.DB, evtType, specID, actor, payload)
}

// AppendTx writes one event inside tx.
func (w Writer) AppendTx(ctx context.Context, tx *sql.Tx, evtType, specID, actor string, payload EventPayload) (domain.Event, error) {
	return w.append(ctx, tx, evtType, specID, actor, payload)
}

func (w Writer) append(ctx context.Context, exec execer, evtType, specID, actor string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actor == "" {
		actor = "local-user"
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		ID:      uuid.NewString(),
		TS:      w.Now().UTC().Format(time.RFC3339),
		Type:    evtType,
		SpecID:  specID,
		Actor:   actor,
		Payload: string(data),
	}
	res, err := exec.ExecContext(ctx, `INSERT INTO events(id,ts,type,spec_id,actor,payload_json) VALUES (?,?,?,?,?,?)`,
		evt.ID, evt.TS, evt.Type, nullable(specID), evt.Actor, evt.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append %s event: %w", evtType, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		evt.Seq = seq
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
