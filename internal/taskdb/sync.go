package taskdb

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/apply"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/server"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/wire"
)

// Sync brings this replica up to date with srv: it pulls and rebases any
// versions the replica hasn't seen, then pushes the replica's local
// operations as a new version, retrying the push if another replica won the
// race to extend the chain first. If avoidSnapshots is true, the replica
// only uploads a snapshot when the server reports high urgency; otherwise it
// does so at low urgency too.
//
// If the server repeats the same rebase target twice in a row, the
// replicas have diverged beyond what this protocol can reconcile and Sync
// fails with tcerr.KindOutOfSync.
func (db *TaskDb) Sync(ctx context.Context, srv server.Server, avoidSnapshots bool) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}

	if empty, err := isEmpty(txn); err != nil {
		return err
	} else if empty {
		if err := bootstrapFromSnapshot(ctx, txn, srv); err != nil {
			return err
		}
	}

	var requestedParent *op.TaskId

	for {
		baseVersionID, err := txn.BaseVersion()
		if err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "read base version")
		}

		loggedOps, err := txn.Operations()
		if err != nil {
			return err
		}
		localOps := op.ProjectLog(loggedOps)

		for {
			result, err := srv.GetChildVersion(ctx, baseVersionID)
			if err != nil {
				return tcerr.Wrap(tcerr.KindServer, err, "get child version of %s", baseVersionID)
			}
			if result.Outcome != server.GetVersionFound {
				break
			}

			serverOps, err := wire.DecodeVersion(result.Version.Payload)
			if err != nil {
				return tcerr.Wrap(tcerr.KindCorruption, err, "decode version %s", result.Version.VersionID)
			}
			localOps = applyVersion(txn, serverOps, localOps)

			if err := txn.SetBaseVersion(result.Version.VersionID); err != nil {
				return tcerr.Wrap(tcerr.KindStorage, err, "set base version")
			}
			baseVersionID = result.Version.VersionID
		}

		if len(localOps) == 0 {
			break
		}

		payload, err := wire.EncodeVersion(localOps)
		if err != nil {
			return err
		}

		result, urgency, err := srv.AddVersion(ctx, baseVersionID, payload)
		if err != nil {
			return tcerr.Wrap(tcerr.KindServer, err, "add version")
		}

		switch result.Outcome {
		case server.AddVersionOk:
			if err := txn.SetBaseVersion(result.NewVersionID); err != nil {
				return tcerr.Wrap(tcerr.KindStorage, err, "set base version after push")
			}

			threshold := server.SnapshotUrgencyLow
			if avoidSnapshots {
				threshold = server.SnapshotUrgencyHigh
			}
			if urgency >= threshold {
				if err := uploadSnapshot(ctx, txn, srv, result.NewVersionID); err != nil {
					log.Ctx(ctx).Warn().Err(err).Msg("snapshot upload failed; continuing without it")
				}
			}

			if err := txn.SetOperations(nil); err != nil {
				return err
			}
			return tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "commit sync")

		case server.AddVersionExpectedParentVersion:
			if requestedParent != nil && *requestedParent == result.ExpectedParentVersionID {
				return tcerr.New(tcerr.KindOutOfSync, "server repeated rebase target %s; replicas have diverged", result.ExpectedParentVersionID)
			}
			parent := result.ExpectedParentVersionID
			requestedParent = &parent
			// loop again: the outer for retries the whole pull/push cycle
		}
	}

	if err := txn.SetOperations(nil); err != nil {
		return err
	}
	return tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "commit sync")
}

// applyVersion rebases localOps against a single remote version, applying
// whatever portion of each server op survives the transform to task state
// and returning the surviving local ops. A server op that fails to apply
// (e.g. updating a task a local delete already removed) is logged and
// skipped rather than treated as fatal, since the transform already
// resolved the conflict as best it can.
func applyVersion(txn storage.StorageTxn, serverOps, localOps []op.SyncOp) []op.SyncOp {
	for _, serverOp := range serverOps {
		newLocalOps := make([]op.SyncOp, 0, len(localOps))
		svrOp := &serverOp
		for _, localOp := range localOps {
			if svrOp == nil {
				newLocalOps = append(newLocalOps, localOp)
				continue
			}
			newSvrOp, newLocalOp := op.Transform(*svrOp, localOp)
			svrOp = newSvrOp
			if newLocalOp != nil {
				newLocalOps = append(newLocalOps, *newLocalOp)
			}
		}
		if svrOp != nil {
			if err := apply.Op(txn, *svrOp); err != nil {
				log.Warn().Err(err).Msg("invalid operation while syncing; ignored")
			}
		}
		localOps = newLocalOps
	}
	return localOps
}

func isEmpty(txn storage.StorageTxn) (bool, error) {
	ids, err := txn.AllTaskUUIDs()
	if err != nil {
		return false, tcerr.Wrap(tcerr.KindStorage, err, "list task uuids")
	}
	return len(ids) == 0, nil
}

func bootstrapFromSnapshot(ctx context.Context, txn storage.StorageTxn, srv server.Server) error {
	snap, err := srv.GetSnapshot(ctx)
	if err != nil {
		return tcerr.Wrap(tcerr.KindServer, err, "get snapshot")
	}
	if snap == nil {
		return nil
	}
	entries, err := wire.DecodeSnapshot(snap.Payload)
	if err != nil {
		return tcerr.Wrap(tcerr.KindCorruption, err, "decode snapshot")
	}
	for _, e := range entries {
		if err := txn.SetTask(e.UUID, e.Task); err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "restore task from snapshot")
		}
	}
	return tcerr.Wrap(tcerr.KindStorage, txn.SetBaseVersion(snap.VersionID), "set base version from snapshot")
}

func uploadSnapshot(ctx context.Context, txn storage.StorageTxn, srv server.Server, versionID op.TaskId) error {
	entries, err := txn.AllTasks()
	if err != nil {
		return err
	}
	payload, err := wire.EncodeSnapshot(entries)
	if err != nil {
		return err
	}
	return tcerr.Wrap(tcerr.KindServer, srv.AddSnapshot(ctx, versionID, payload), "add snapshot")
}
