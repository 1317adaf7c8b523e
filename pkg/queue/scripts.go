package queue

import "github.com/redis/go-redis/v9"

// addScript inserts a job unless a job with the same id is already known.
// KEYS: job hash, wait list. ARGV: id, name, data, max attempts, backoff ms,
// keep completed ms, keep failed ms, enqueued at ms.
var addScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1],
	"name", ARGV[2],
	"data", ARGV[3],
	"max_attempts", ARGV[4],
	"backoff_ms", ARGV[5],
	"keep_completed_ms", ARGV[6],
	"keep_failed_ms", ARGV[7],
	"enqueued_at", ARGV[8],
	"attempts_made", "0",
	"state", "waiting")
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1
`)

// reserveScript atomically moves the oldest waiting job to active, counts the
// attempt and takes a lease. KEYS: wait list, active list.
// ARGV: key prefix, lease ms, worker token, now ms.
var reserveScript = redis.NewScript(`
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
	return false
end
local jobKey = ARGV[1] .. ":job:" .. id
if redis.call("EXISTS", jobKey) == 0 then
	redis.call("LREM", KEYS[2], 1, id)
	return false
end
redis.call("HINCRBY", jobKey, "attempts_made", 1)
redis.call("HSET", jobKey, "state", "active", "processed_at", ARGV[4])
redis.call("SET", ARGV[1] .. ":lease:" .. id, ARGV[3], "PX", ARGV[2])
local fields = redis.call("HGETALL", jobKey)
table.insert(fields, 1, id)
return fields
`)

// completeScript KEYS: active list, job hash, lease. ARGV: id, now ms.
var completeScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("DEL", KEYS[3])
local keep = tonumber(redis.call("HGET", KEYS[2], "keep_completed_ms") or "0")
if keep <= 0 then
	redis.call("DEL", KEYS[2])
	return 1
end
redis.call("HSET", KEYS[2], "state", "completed", "finished_at", ARGV[2])
redis.call("PEXPIRE", KEYS[2], tostring(keep))
return 1
`)

// retryScript KEYS: active list, job hash, lease, delayed zset.
// ARGV: id, ready at ms, error.
var retryScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("DEL", KEYS[3])
redis.call("HSET", KEYS[2], "state", "delayed", "error", ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[2], ARGV[1])
return 1
`)

// failScript KEYS: active list, job hash, lease, failed zset.
// ARGV: id, now ms, error.
var failScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("DEL", KEYS[3])
redis.call("HSET", KEYS[2], "state", "failed", "error", ARGV[3], "finished_at", ARGV[2])
local keep = tonumber(redis.call("HGET", KEYS[2], "keep_failed_ms") or "0")
if keep > 0 then
	redis.call("PEXPIRE", KEYS[2], tostring(keep))
	redis.call("ZADD", KEYS[4], ARGV[2], ARGV[1])
	redis.call("ZREMRANGEBYSCORE", KEYS[4], "-inf", tostring(tonumber(ARGV[2]) - keep))
else
	redis.call("DEL", KEYS[2])
end
return 1
`)

// promoteScript moves due delayed jobs back to wait. KEYS: delayed zset, wait list.
// ARGV: key prefix, now ms, batch size.
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", "0", ARGV[3])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	local jobKey = ARGV[1] .. ":job:" .. id
	if redis.call("EXISTS", jobKey) == 1 then
		redis.call("HSET", jobKey, "state", "waiting")
		redis.call("LPUSH", KEYS[2], id)
	end
end
return #ids
`)

// recoverScript requeues active jobs whose lease expired. KEYS: active list, wait list.
// ARGV: key prefix.
var recoverScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local moved = 0
for _, id in ipairs(ids) do
	if redis.call("EXISTS", ARGV[1] .. ":lease:" .. id) == 0 then
		redis.call("LREM", KEYS[1], 1, id)
		local jobKey = ARGV[1] .. ":job:" .. id
		if redis.call("EXISTS", jobKey) == 1 then
			redis.call("HSET", jobKey, "state", "waiting")
			redis.call("LPUSH", KEYS[2], id)
			moved = moved + 1
		end
	end
end
return moved
`)
