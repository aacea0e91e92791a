// Package campaign runs bulk email campaigns as durable, interval-paced jobs.
//
// A Job is created by Engine.Init and advanced one recipient per tick. Ticks
// are fired by a per-job re-arming timer: the timer fires once, the tick
// handles exactly one recipient, persists the record, and only then arms the
// next timer. All progress lives in the persisted record, so a restarted
// process picks a job up again with Engine.Resume.
//
// Within a job there is a single writer: the scheduler keeps at most one
// pending timer per job id and a tick re-arms only after it has persisted.
// Jobs are independent of each other and may tick in parallel.
//
// Cancellation is not supported. A cancel operation would disarm the job's
// timer and persist InProgress=false.
package campaign
