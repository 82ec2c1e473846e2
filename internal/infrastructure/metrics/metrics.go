package metrics

import (
	"expvar"
)

// Checkpoint metrics (counters) using expvar maps keyed by type or reason.
var (
	checkpointsCreated = expvar.NewMap("threadpoint_checkpoints_created_total")
	checkpointsDeleted = expvar.NewMap("threadpoint_checkpoints_deleted_total")
	eventsPublished    = expvar.NewMap("threadpoint_events_published_total")
	eventsDropped      = expvar.NewMap("threadpoint_events_dropped_total")
	eventQueueDepth    = expvar.NewMap("threadpoint_event_queue_depth")
)

// Lifecycle metrics.
var (
	checkpointsRestored = new(expvar.Int)
	checkpointsArchived = new(expvar.Int)
	backupsCreated      = new(expvar.Int)
	restoreFailures     = new(expvar.Int)
)

func init() {
	expvar.Publish("threadpoint_checkpoints_restored_total", checkpointsRestored)
	expvar.Publish("threadpoint_checkpoints_archived_total", checkpointsArchived)
	expvar.Publish("threadpoint_backups_created_total", backupsCreated)
	expvar.Publish("threadpoint_restore_failures_total", restoreFailures)
}

// Checkpoint helpers
func CheckpointCreated(typ string)             { checkpointsCreated.Add(typ, 1) }
func CheckpointDeleted(reason string, n int64) { checkpointsDeleted.Add(reason, n) }
func CheckpointRestored()                      { checkpointsRestored.Add(1) }
func CheckpointArchived(n int64)               { checkpointsArchived.Add(n) }
func BackupCreated()                           { backupsCreated.Add(1) }
func RestoreFailed()                           { restoreFailures.Add(1) }

// Event helpers
func EventPublished(typ string)                 { eventsPublished.Add(typ, 1) }
func EventDropped(typ string)                   { eventsDropped.Add(typ, 1) }
func EventQueueDepth(kind string, depth int64)  { setMapInt(eventQueueDepth, kind, depth) }

// setMapInt replaces value for a key in an expvar.Map with an *expvar.Int set to v.
func setMapInt(m *expvar.Map, key string, v int64) {
	x := new(expvar.Int)
	x.Set(v)
	m.Set(key, x)
}
