package sqlstore

// Queries use ? placeholders and a {prefix} table prefix; both are resolved
// per dialect by Store.q.

const triggerColumns = `trigger_group, trigger_name, job_group, job_name, description,
    start_time, end_time, cron_expression, time_zone,
    repeat_count, repeat_interval, times_triggered, priority, misfire_instr,
    next_fire_time, prev_fire_time, trigger_state, recovering`

const firedColumns = `entry_id, instance_id, trigger_group, trigger_name, job_group, job_name,
    fired_time, sched_time, priority, state, requests_recovery`

const queryInsertJob = `
INSERT INTO {prefix}job_details (job_group, job_name, job_type, description, requests_recovery, is_durable, job_data)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const queryDeleteJob = `
DELETE FROM {prefix}job_details WHERE job_group = ? AND job_name = ?
`

const queryGetJob = `
SELECT job_group, job_name, job_type, description, requests_recovery, is_durable, job_data
FROM {prefix}job_details
WHERE job_group = ? AND job_name = ?
`

const queryJobExists = `
SELECT 1 FROM {prefix}job_details WHERE job_group = ? AND job_name = ?
`

const queryDeleteOrphanJob = `
DELETE FROM {prefix}job_details
WHERE job_group = ? AND job_name = ?
  AND is_durable = ?
  AND NOT EXISTS (
    SELECT 1 FROM {prefix}triggers t
    WHERE t.job_group = ? AND t.job_name = ?
  )
`

const queryInsertTrigger = `
INSERT INTO {prefix}triggers (` + triggerColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryUpdateTrigger = `
UPDATE {prefix}triggers
SET job_group = ?, job_name = ?, description = ?,
    start_time = ?, end_time = ?, cron_expression = ?, time_zone = ?,
    repeat_count = ?, repeat_interval = ?, times_triggered = ?, priority = ?, misfire_instr = ?,
    next_fire_time = ?, prev_fire_time = ?, trigger_state = ?, recovering = ?
WHERE trigger_group = ? AND trigger_name = ?
`

const queryDeleteTrigger = `
DELETE FROM {prefix}triggers WHERE trigger_group = ? AND trigger_name = ?
`

const queryDeleteCompleteTrigger = `
DELETE FROM {prefix}triggers
WHERE trigger_group = ? AND trigger_name = ? AND trigger_state = 'complete'
`

const queryGetTrigger = `
SELECT ` + triggerColumns + `
FROM {prefix}triggers
WHERE trigger_group = ? AND trigger_name = ?
`

const queryListTriggers = `
SELECT ` + triggerColumns + `
FROM {prefix}triggers
`

const querySelectDueTriggers = `
SELECT ` + triggerColumns + `
FROM {prefix}triggers
WHERE trigger_state = 'waiting'
  AND next_fire_time IS NOT NULL
  AND next_fire_time <= ?
ORDER BY next_fire_time ASC, priority DESC
LIMIT ?
`

const queryMarkAcquired = `
UPDATE {prefix}triggers
SET trigger_state = 'acquired'
WHERE trigger_group = ? AND trigger_name = ? AND trigger_state = 'waiting'
`

const queryReleaseTrigger = `
UPDATE {prefix}triggers
SET trigger_state = 'waiting', next_fire_time = ?
WHERE trigger_group = ? AND trigger_name = ? AND trigger_state = 'acquired'
`

const queryResetAcquiredTrigger = `
UPDATE {prefix}triggers
SET trigger_state = 'waiting'
WHERE trigger_group = ? AND trigger_name = ? AND trigger_state = 'acquired'
`

const queryInsertFired = `
INSERT INTO {prefix}fired_triggers (` + firedColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryFindAcquiredRecord = `
SELECT entry_id FROM {prefix}fired_triggers
WHERE instance_id = ? AND trigger_group = ? AND trigger_name = ? AND state = 'acquired'
`

const queryMarkExecuting = `
UPDATE {prefix}fired_triggers
SET state = 'executing', fired_time = ?, sched_time = ?, requests_recovery = ?
WHERE entry_id = ?
`

const queryDeleteAcquiredRecords = `
DELETE FROM {prefix}fired_triggers
WHERE instance_id = ? AND trigger_group = ? AND trigger_name = ? AND state = 'acquired'
`

const queryDeleteAcquiredRecordsForTrigger = `
DELETE FROM {prefix}fired_triggers
WHERE trigger_group = ? AND trigger_name = ? AND state = 'acquired'
`

const queryDeleteFired = `
DELETE FROM {prefix}fired_triggers WHERE entry_id = ?
`

const queryListFired = `
SELECT ` + firedColumns + `
FROM {prefix}fired_triggers
WHERE instance_id = ?
ORDER BY sched_time ASC
`

const queryUpsertInstance = `
INSERT INTO {prefix}scheduler_state (instance_id, last_checkin, checkin_interval)
VALUES (?, ?, ?)
ON CONFLICT (instance_id) DO UPDATE
SET last_checkin = excluded.last_checkin, checkin_interval = excluded.checkin_interval
`

const queryListInstances = `
SELECT instance_id, last_checkin, checkin_interval
FROM {prefix}scheduler_state
ORDER BY instance_id
`

const queryDeleteInstance = `
DELETE FROM {prefix}scheduler_state WHERE instance_id = ?
`

const queryClearFired = `DELETE FROM {prefix}fired_triggers`
const queryClearTriggers = `DELETE FROM {prefix}triggers`
const queryClearJobs = `DELETE FROM {prefix}job_details`
