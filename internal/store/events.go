package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Action is the kind of operation an event records.
type Action string

const (
	ActionUpdate   Action = "Update"
	ActionRetrieve Action = "Retrieve"
	ActionDelete   Action = "Delete"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionUpdate, ActionRetrieve, ActionDelete:
		return true
	}
	return false
}

// RequestMetadata describes the request that caused an event.
type RequestMetadata struct {
	Timestamp time.Time
	Address   string
	// Headers are stored and returned in the given order. HTTP requests
	// list Host first, then the remaining headers by canonical name.
	Headers   []HeaderPair
}

// EventRecord is the input to AppendEvent.
type EventRecord struct {
	UID         string
	Action      Action
	Key         string
	Request     RequestMetadata
	ValueBefore *ValueRef
	ValueAfter  *ValueRef
}

// Event is an immutable audit record as stored.
// Seq is the insertion order and breaks timestamp ties.
type Event struct {
	Seq         int64
	UID         string
	Action      Action
	Key         string
	Request     RequestMetadata
	ValueBefore *ValueRef
	ValueAfter  *ValueRef
}

// AppendEvent persists one event together with its request metadata.
// Each header is resolved through GetOrCreateHeader and linked in order.
//
// AppendEvent must run in the same scope as the mutation it documents so
// that a failure discards both.
func (sc *Scope) AppendEvent(ctx context.Context, rec EventRecord) (Event, error) {
	if err := sc.check(); err != nil {
		return Event{}, err
	}
	if !rec.Action.Valid() {
		return Event{}, fmt.Errorf("append event: invalid action %q", rec.Action)
	}
	if rec.UID == "" {
		return Event{}, fmt.Errorf("append event: empty uid")
	}

	ts := rec.Request.Timestamp.UTC()
	result, err := sc.tx.ExecContext(ctx, `
		INSERT INTO requests (timestamp, address)
		VALUES (?, ?)
	`, ts.UnixNano(), rec.Request.Address)
	if err != nil {
		return Event{}, fmt.Errorf("append event: write request: %w", err)
	}
	requestID, err := result.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("append event: request id: %w", err)
	}

	headers := make([]HeaderPair, 0, len(rec.Request.Headers))
	for i, h := range rec.Request.Headers {
		pair, err := sc.GetOrCreateHeader(ctx, h.Name, h.Value)
		if err != nil {
			return Event{}, fmt.Errorf("append event: %w", err)
		}
		if _, err := sc.tx.ExecContext(ctx, `
			INSERT INTO request_headers (request_id, header_id, position)
			VALUES (?, ?, ?)
		`, requestID, pair.ID, i); err != nil {
			return Event{}, fmt.Errorf("append event: link header: %w", err)
		}
		headers = append(headers, pair)
	}

	result, err = sc.tx.ExecContext(ctx, `
		INSERT INTO events
		(uid, action, entry_key, request_id, value_before_id, value_after_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.UID,
		string(rec.Action),
		rec.Key,
		requestID,
		refID(rec.ValueBefore),
		refID(rec.ValueAfter),
	)
	if err != nil {
		return Event{}, fmt.Errorf("append event: write event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("append event: event id: %w", err)
	}

	return Event{
		Seq:    seq,
		UID:    rec.UID,
		Action: rec.Action,
		Key:    rec.Key,
		Request: RequestMetadata{
			Timestamp: ts,
			Address:   rec.Request.Address,
			Headers:   headers,
		},
		ValueBefore: rec.ValueBefore,
		ValueAfter:  rec.ValueAfter,
	}, nil
}

// EventsForKey returns every event recorded for key, including retrievals,
// in insertion order.
func (s *Store) EventsForKey(ctx context.Context, key string) ([]Event, error) {
	var events []Event
	err := s.WithScope(ctx, func(ctx context.Context, sc *Scope) error {
		var err error
		events, err = sc.eventsForKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (sc *Scope) eventsForKey(ctx context.Context, key string) ([]Event, error) {
	rows, err := sc.tx.QueryContext(ctx, `
		SELECT e.id, e.uid, e.action, e.entry_key, e.request_id,
		       r.timestamp, r.address,
		       vb.id, vb.digest, vb.size,
		       va.id, va.digest, va.size
		FROM events e
		JOIN requests r ON r.id = e.request_id
		LEFT JOIN value_blobs vb ON vb.id = e.value_before_id
		LEFT JOIN value_blobs va ON va.id = e.value_after_id
		WHERE e.entry_key = ?
		ORDER BY e.id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := []Event{}
	requestIDs := []int64{}
	for rows.Next() {
		var (
			ev              Event
			action          string
			requestID, nano int64
			before, after   nullableRef
		)
		if err := rows.Scan(
			&ev.Seq, &ev.UID, &action, &ev.Key, &requestID,
			&nano, &ev.Request.Address,
			&before.id, &before.digest, &before.size,
			&after.id, &after.digest, &after.size,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Action = Action(action)
		ev.Request.Timestamp = time.Unix(0, nano).UTC()
		ev.ValueBefore = before.ref()
		ev.ValueAfter = after.ref()
		events = append(events, ev)
		requestIDs = append(requestIDs, requestID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	headers, err := sc.loadHeaders(ctx, `
		SELECT rh.request_id, h.id, h.name, h.value
		FROM request_headers rh
		JOIN headers h ON h.id = rh.header_id
		JOIN events e ON e.request_id = rh.request_id
		WHERE e.entry_key = ?
		ORDER BY rh.request_id ASC, rh.position ASC
	`, key)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Request.Headers = headers[requestIDs[i]]
	}
	return events, nil
}

// loadHeaders runs a query yielding (request_id, header id, name, value) rows
// in position order and groups them by request.
func (sc *Scope) loadHeaders(ctx context.Context, query string, args ...any) (map[int64][]HeaderPair, error) {
	rows, err := sc.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query request headers: %w", err)
	}
	defer rows.Close()

	byRequest := make(map[int64][]HeaderPair)
	for rows.Next() {
		var requestID int64
		var h HeaderPair
		if err := rows.Scan(&requestID, &h.ID, &h.Name, &h.Value); err != nil {
			return nil, fmt.Errorf("scan request header: %w", err)
		}
		byRequest[requestID] = append(byRequest[requestID], h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request headers: %w", err)
	}
	return byRequest, nil
}

// nullableRef scans the columns of an optional LEFT JOINed value.
type nullableRef struct {
	id     sql.NullInt64
	digest []byte
	size   sql.NullInt64
}

func (n nullableRef) ref() *ValueRef {
	if !n.id.Valid {
		return nil
	}
	return &ValueRef{ID: n.id.Int64, Digest: n.digest, Size: n.size.Int64}
}

func refID(r *ValueRef) any {
	if r == nil {
		return nil
	}
	return r.ID
}
