// Package pgstore is the Postgres-backed implementation of
// internal/syncserver.Store: the durable home for the version chain, latest
// pointers, and snapshot bookkeeping the sync server exposes over HTTP.
package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/syncserver"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// Schema matches the version-chain shape internal/syncserver.StoreTxn
// expects: one row per client in tc_client, one row per pushed version in
// tc_version, and a nullable snapshot pointer/blob inline on tc_client
// (there is at most one live snapshot per client, so it doesn't need its
// own table).
const Schema = `
CREATE TABLE IF NOT EXISTS tc_client (
	client_key    uuid PRIMARY KEY,
	latest_version_id uuid NOT NULL,
	snapshot_version_id uuid,
	snapshot_data bytea,
	snapshot_taken_at timestamptz,
	pushes_since_snapshot integer NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tc_version (
	client_key  uuid NOT NULL REFERENCES tc_client(client_key),
	version_id  uuid NOT NULL,
	parent_version_id uuid NOT NULL,
	payload     bytea NOT NULL,
	PRIMARY KEY (client_key, version_id)
);

CREATE INDEX IF NOT EXISTS tc_version_by_parent
	ON tc_version (client_key, parent_version_id);
`

// Store is a pgxpool-backed syncserver.Store.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Txn(ctx context.Context) (syncserver.StoreTxn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "begin postgres transaction")
	}
	return &pgTxn{tx: tx}, nil
}

type pgTxn struct {
	tx pgx.Tx
}

func (t *pgTxn) GetOrCreateClient(ctx context.Context, key op.TaskId) (syncserver.Client, error) {
	var (
		latest       op.TaskId
		snapVersion  *op.TaskId
		snapTakenAt  *time.Time
		pushesSince  int32
	)
	err := t.tx.QueryRow(ctx,
		`INSERT INTO tc_client (client_key, latest_version_id)
		 VALUES ($1, $2)
		 ON CONFLICT (client_key) DO UPDATE SET client_key = excluded.client_key
		 RETURNING latest_version_id, snapshot_version_id, snapshot_taken_at, pushes_since_snapshot`,
		key, syncserver.NilVersionID).Scan(&latest, &snapVersion, &snapTakenAt, &pushesSince)
	if err != nil {
		return syncserver.Client{}, tcerr.Wrap(tcerr.KindStorage, err, "upsert client %s", key)
	}

	client := syncserver.Client{ClientKey: key, LatestVersionID: latest}
	if snapVersion != nil {
		days := int64(0)
		if snapTakenAt != nil {
			days = int64(time.Since(*snapTakenAt).Hours() / 24)
		}
		client.Snapshot = &syncserver.ClientSnapshot{
			VersionID:     *snapVersion,
			VersionsSince: uint32(pushesSince),
			DaysSince:     days,
		}
	}
	return client, nil
}

func (t *pgTxn) GetVersionByParent(ctx context.Context, key op.TaskId, parent op.TaskId) (syncserver.Version, bool, error) {
	var v syncserver.Version
	err := t.tx.QueryRow(ctx,
		`SELECT version_id, parent_version_id, payload FROM tc_version
		 WHERE client_key = $1 AND parent_version_id = $2`,
		key, parent).Scan(&v.VersionID, &v.ParentVersionID, &v.Payload)
	if err == pgx.ErrNoRows {
		return syncserver.Version{}, false, nil
	}
	if err != nil {
		return syncserver.Version{}, false, tcerr.Wrap(tcerr.KindStorage, err, "get version by parent")
	}
	return v, true, nil
}

func (t *pgTxn) GetVersion(ctx context.Context, key op.TaskId, versionID op.TaskId) (syncserver.Version, bool, error) {
	var v syncserver.Version
	err := t.tx.QueryRow(ctx,
		`SELECT version_id, parent_version_id, payload FROM tc_version
		 WHERE client_key = $1 AND version_id = $2`,
		key, versionID).Scan(&v.VersionID, &v.ParentVersionID, &v.Payload)
	if err == pgx.ErrNoRows {
		return syncserver.Version{}, false, nil
	}
	if err != nil {
		return syncserver.Version{}, false, tcerr.Wrap(tcerr.KindStorage, err, "get version")
	}
	return v, true, nil
}

func (t *pgTxn) AddVersion(ctx context.Context, key op.TaskId, v syncserver.Version) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO tc_version (client_key, version_id, parent_version_id, payload)
		 VALUES ($1, $2, $3, $4)`,
		key, v.VersionID, v.ParentVersionID, v.Payload); err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "insert version")
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE tc_client SET latest_version_id = $2, pushes_since_snapshot = pushes_since_snapshot + 1
		 WHERE client_key = $1`,
		key, v.VersionID); err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "advance latest_version_id")
	}
	return nil
}

func (t *pgTxn) SetSnapshot(ctx context.Context, key op.TaskId, versionID op.TaskId, payload []byte) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE tc_client
		 SET snapshot_version_id = $2, snapshot_data = $3, snapshot_taken_at = now(), pushes_since_snapshot = 0
		 WHERE client_key = $1`,
		key, versionID, payload); err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "set snapshot")
	}
	return nil
}

func (t *pgTxn) GetSnapshotData(ctx context.Context, key op.TaskId) ([]byte, bool, error) {
	var data []byte
	err := t.tx.QueryRow(ctx,
		`SELECT snapshot_data FROM tc_client WHERE client_key = $1 AND snapshot_data IS NOT NULL`,
		key).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, tcerr.Wrap(tcerr.KindStorage, err, "get snapshot data")
	}
	return data, true, nil
}

func (t *pgTxn) Commit(ctx context.Context) error {
	return tcerr.Wrap(tcerr.KindStorage, t.tx.Commit(ctx), "commit postgres transaction")
}
