// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package staging

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	bstore "github.com/AleutianAI/ArchModel/services/storage/badger"
)

// Action names a lifecycle event.
type Action string

const (
	ActionCreate     Action = "create"
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionStage      Action = "stage"
	ActionUnstage    Action = "unstage"
	ActionDiscard    Action = "discard"
	ActionCommit     Action = "commit"
	ActionDelete     Action = "delete"
	ActionMigrate    Action = "migrate"
)

// Event is one journal entry.
type Event struct {
	ChangesetID string    `json:"changesetId"`
	Action      Action    `json:"action"`
	SessionID   string    `json:"sessionId"`
	Actor       string    `json:"actor,omitempty"`
	Time        time.Time `json:"time"`
	Detail      string    `json:"detail,omitempty"`
}

// Journal is an append-only log of lifecycle events keyed by changeset.
//
// Keys are "event/<changesetID>/<unix nanos>/<seq>" so a prefix scan
// returns a changeset's history in order.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	db  *bstore.DB
	seq atomic.Uint64
}

// OpenJournal opens a journal backed by cfg.
func OpenJournal(cfg bstore.Config) (*Journal, error) {
	db, err := bstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an event.
func (j *Journal) Record(e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal event: %w", err)
	}
	key := fmt.Sprintf("event/%s/%020d/%06d", e.ChangesetID, e.Time.UnixNano(), j.seq.Add(1)%1_000_000)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// History returns every event for changesetID, oldest first. An empty id
// returns the events of every changeset.
func (j *Journal) History(changesetID string) ([]Event, error) {
	prefix := []byte("event/")
	if changesetID != "" {
		prefix = []byte("event/" + changesetID + "/")
	}

	var events []Event
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Event
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				events = append(events, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return events, nil
}
