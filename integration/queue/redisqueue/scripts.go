package redisqueue

import "github.com/redis/go-redis/v9"

// Result codes shared by the state-checking scripts.
const (
	codeOK            = 1
	codeNotFound      = -1
	codeNotProcessing = -2
)

// KEYS[1] task hash, KEYS[2] pending set
// ARGV[1] score, ARGV[2] id, ARGV[3..] field/value pairs
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// KEYS[1] processing set, KEYS[2..] pending sets of the requested queues
// ARGV[1] now, ARGV[2] lock expiry, ARGV[3] worker id,
// ARGV[4] task key prefix, ARGV[5] pending key prefix, ARGV[6] per-queue scan limit
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(expired) do
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[1], id)
  local queue = redis.call('HGET', key, 'queue')
  if queue then
    redis.call('HSET', key, 'status', 'pending')
    redis.call('HDEL', key, 'locked_until', 'locked_by')
    redis.call('ZADD', ARGV[5] .. queue, redis.call('HGET', key, 'scheduled_at'), id)
  end
end

local best, bestKey, bestPrio, bestAt
for i = 2, #KEYS do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1], 'LIMIT', 0, ARGV[6])
  for _, id in ipairs(ids) do
    local key = ARGV[4] .. id
    local prio = tonumber(redis.call('HGET', key, 'priority') or '0')
    local at = tonumber(redis.call('HGET', key, 'scheduled_at') or '0')
    if best == nil or prio > bestPrio or (prio == bestPrio and at < bestAt) then
      best, bestKey, bestPrio, bestAt = id, KEYS[i], prio, at
    end
  end
end

if best == nil then
  return false
end
redis.call('ZREM', bestKey, best)
redis.call('HSET', ARGV[4] .. best, 'status', 'processing', 'locked_until', ARGV[2], 'locked_by', ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[2], best)
return best
`)

// KEYS[1] task hash, KEYS[2] processing set, KEYS[3] completed counter
// ARGV[1] id
var completeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' then
  return -2
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('INCR', KEYS[3])
return 1
`)

// KEYS[1] task hash, KEYS[2] processing set
// ARGV[1] id, ARGV[2] new lock expiry
var extendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' then
  return -2
end
redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)
