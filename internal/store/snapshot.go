package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/auditkv/internal/history"
)

// Snapshot reads the inputs of history.Reconstruct within one scope: the
// active key set and every non-retrieval event joined with its request and
// resulting value. Records are returned in insertion order.
func (s *Store) Snapshot(ctx context.Context) (active []string, records []history.Record, err error) {
	err = s.WithScope(ctx, func(ctx context.Context, sc *Scope) error {
		active, err = sc.ActiveKeys(ctx)
		if err != nil {
			return err
		}
		records, err = sc.writeRecords(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	return active, records, nil
}

func (sc *Scope) writeRecords(ctx context.Context) ([]history.Record, error) {
	rows, err := sc.tx.QueryContext(ctx, `
		SELECT e.id, e.entry_key, e.request_id, r.timestamp, r.address, va.size
		FROM events e
		JOIN requests r ON r.id = e.request_id
		LEFT JOIN value_blobs va ON va.id = e.value_after_id
		WHERE e.action != 'Retrieve'
		ORDER BY e.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query write events: %w", err)
	}

	records := []history.Record{}
	requestIDs := []int64{}
	for rows.Next() {
		var (
			rec       history.Record
			requestID int64
			nano      int64
			size      nullableRef
		)
		if err := rows.Scan(&rec.Seq, &rec.Key, &requestID, &nano, &rec.Address, &size.size); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan write event: %w", err)
		}
		rec.Timestamp = time.Unix(0, nano).UTC()
		if size.size.Valid {
			n := size.size.Int64
			rec.Size = &n
		}
		records = append(records, rec)
		requestIDs = append(requestIDs, requestID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate write events: %w", err)
	}
	rows.Close()

	headers, err := sc.loadHeaders(ctx, `
		SELECT rh.request_id, h.id, h.name, h.value
		FROM request_headers rh
		JOIN headers h ON h.id = rh.header_id
		JOIN events e ON e.request_id = rh.request_id
		WHERE e.action != 'Retrieve'
		ORDER BY rh.request_id ASC, rh.position ASC
	`)
	if err != nil {
		return nil, err
	}

	for i := range records {
		pairs := headers[requestIDs[i]]
		hs := make([]history.Header, 0, len(pairs))
		for _, p := range pairs {
			hs = append(hs, history.Header{Key: p.Name, Value: p.Value})
		}
		records[i].Headers = hs
	}
	return records, nil
}
