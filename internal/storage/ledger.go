// Package storage persists per-session campaign state to a local
// embedded KV store, using the JSON-marshal-into-bucket idiom (one
// bucket per record kind) with bbolt as the session directory's
// lightweight persisted job ledger.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkflowState = []byte("workflow_state")
	bucketExecRecords   = []byte("exec_records")
)

// ExecRecord is the persisted execution record for one completed
// workflow, written by the bookkeeper's monitor loop before it hands the
// same data to the recorder collaborator.
type ExecRecord struct {
	WorkflowID     int     `json:"workflow_id"`
	ClusterStepID  string  `json:"cluster_step_id"`
	RuntimeMinutes float64 `json:"runtime_minutes"`
	MemoryMB       float64 `json:"memory_mb"`
	FinalState     string  `json:"final_state"`
}

// Ledger is the per-session durability layer living at
// <session_dir>/ledger.db.
type Ledger struct {
	db *bolt.DB
}

// Open creates or opens the ledger inside sessionDir, the
// <cwd>/<session_id>/ directory that holds the core's only owned
// on-disk state.
func Open(sessionDir string) (*Ledger, error) {
	path := filepath.Join(sessionDir, "ledger.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkflowState, bucketExecRecords} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// PutWorkflowState records a workflow's current lifecycle state.
func (l *Ledger) PutWorkflowState(workflowID int, state string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkflowState)
		return b.Put([]byte(strconv.Itoa(workflowID)), []byte(state))
	})
}

// WorkflowStates returns every persisted workflow state, keyed by id.
func (l *Ledger) WorkflowStates() (map[int]string, error) {
	out := make(map[int]string)
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkflowState)
		return b.ForEach(func(k, v []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return err
			}
			out[id] = string(v)
			return nil
		})
	})
	return out, err
}

// PutExecRecord persists one completed workflow's execution record.
func (l *Ledger) PutExecRecord(rec ExecRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecRecords)
		return b.Put([]byte(strconv.Itoa(rec.WorkflowID)), data)
	})
}

// ExecRecords returns every persisted execution record.
func (l *Ledger) ExecRecords() ([]ExecRecord, error) {
	var out []ExecRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecRecords)
		return b.ForEach(func(_, v []byte) error {
			var rec ExecRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
