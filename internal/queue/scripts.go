package queue

import "github.com/redis/go-redis/v9"

// ──────────────────────────────────────────────────────────────────────────────
// Lua scripts: the atomic core of the claim protocol
// ──────────────────────────────────────────────────────────────────────────────

// claimPendingScript atomically claims due bets for batch processing.
//
// Keys: [claimable_index, processing_index]
// Args: [limit, batch_id, processor_id, now_ms]
//
// Returns the claimed bet ids. Only entries with score <= now_ms are
// eligible; the score is the bet's "available at" instant.
var claimPendingScript = redis.NewScript(`
local claimable = KEYS[1]
local processing = KEYS[2]
local limit = tonumber(ARGV[1])
local batch_id = ARGV[2]
local processor_id = ARGV[3]
local now_ms = tonumber(ARGV[4])

local entries = redis.call('ZRANGEBYSCORE', claimable, '-inf', now_ms, 'WITHSCORES', 'LIMIT', 0, limit)
local claimed = {}

for i = 1, #entries, 2 do
  local bet_id = entries[i]
  local score = entries[i + 1]
  redis.call('ZREM', claimable, bet_id)
  redis.call('ZADD', processing, score, bet_id)
  redis.call('HSET', 'bet:' .. bet_id,
    'status', 'batched',
    'external_batch_id', batch_id,
    'processor_id', processor_id
  )
  table.insert(claimed, bet_id)
end

return claimed
`)

// failRetryableScript increments a bet's retry count and either reinserts it
// into the claimable index with backoff or escalates it to manual review.
//
// Keys: [bet_key, claimable_index, processing_index]
// Args: [bet_id, now_ms, max_retries, backoff_ms]
//
// Returns [new_status, new_retry_count].
var failRetryableScript = redis.NewScript(`
local bet_key = KEYS[1]
local claimable = KEYS[2]
local processing = KEYS[3]
local bet_id = ARGV[1]
local now_ms = tonumber(ARGV[2])
local max_retries = tonumber(ARGV[3])
local backoff_ms = tonumber(ARGV[4])

local current_retry = tonumber(redis.call('HGET', bet_key, 'retry_count') or '0')
local new_retry = current_retry + 1

redis.call('HSET', bet_key,
    'retry_count', tostring(new_retry),
    'solana_tx_id', ''
)

if new_retry > max_retries then
    redis.call('HSET', bet_key,
        'status', 'failed_manual_review'
    )
    redis.call('ZREM', claimable, bet_id)
    redis.call('ZREM', processing, bet_id)
    return { 'failed_manual_review', tostring(new_retry) }
end

local next_attempt_at = now_ms + backoff_ms

redis.call('HSET', bet_key,
    'status', 'failed_retryable',
    'next_attempt_at_ms', tostring(next_attempt_at)
)

redis.call('ZADD', claimable, next_attempt_at, bet_id)
redis.call('ZREM', processing, bet_id)

return { 'failed_retryable', tostring(new_retry) }
`)

// casUpdateScript performs a compare-and-swap status update against the
// bet's version field.
//
// Keys: [bet_key]
// Args: [expected_version, new_status]
//
// Returns 1 on success, 0 on version mismatch.
var casUpdateScript = redis.NewScript(`
local bet_key = KEYS[1]
local expected = tonumber(ARGV[1])
local new_status = ARGV[2]

local current = tonumber(redis.call('HGET', bet_key, 'version') or '0')
if current ~= expected then
  return 0
end

redis.call('HSET', bet_key, 'status', new_status)
redis.call('HINCRBY', bet_key, 'version', 1)
return 1
`)
