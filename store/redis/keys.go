package redis

// Redis key naming conventions for flowcore history.
// All keys are prefixed with "flowcore:" to avoid collisions.

const keyPrefix = "flowcore:"

// recordKey returns the Hash key for a record: flowcore:history:{id}
func recordKey(id string) string { return keyPrefix + "history:" + id }

// ── Sorted-set indexes, scored by recorded_at ──

// allRecordsKey indexes every record.
const allRecordsKey = keyPrefix + "history_idx:all"

// jobRecordsKey indexes records of one job: flowcore:history_idx:job:{id}
func jobRecordsKey(jobID string) string { return keyPrefix + "history_idx:job:" + jobID }

// instanceRecordsKey indexes records of one process instance.
func instanceRecordsKey(pi string) string { return keyPrefix + "history_idx:pi:" + pi }

// outcomeRecordsKey indexes records by outcome.
func outcomeRecordsKey(outcome string) string { return keyPrefix + "history_idx:outcome:" + outcome }
