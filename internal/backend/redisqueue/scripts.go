package redisqueue

import "github.com/redis/go-redis/v9"

// Every state transition runs as one script so that it is atomic with
// respect to concurrent consumers.
//
// Message hash fields: body, enqueued_at, expires_at, receipt, deadline,
// dequeue_count. Times are unix milliseconds. The schedule ZSET scores each
// message id with the instant it is (or becomes) visible.

// KEYS[1] schedule; ARGV[1] msg key prefix, ARGV[2] now, ARGV[3] deadline,
// ARGV[4] receipt.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[2])
while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 64)
  if #ids == 0 then
    return false
  end
  for _, id in ipairs(ids) do
    local key = ARGV[1] .. id
    local expires = tonumber(redis.call('HGET', key, 'expires_at'))
    if (not expires) or expires <= now then
      redis.call('ZREM', KEYS[1], id)
      redis.call('DEL', key)
    else
      redis.call('HSET', key, 'receipt', ARGV[4], 'deadline', ARGV[3])
      local count = redis.call('HINCRBY', key, 'dequeue_count', 1)
      redis.call('ZADD', KEYS[1], ARGV[3], id)
      local f = redis.call('HMGET', key, 'body', 'enqueued_at', 'expires_at')
      return {id, f[1], f[2], f[3], count}
    end
  end
end
`)

// KEYS[1] schedule, KEYS[2] msg key; ARGV[1] id, ARGV[2] receipt, ARGV[3] now.
var deleteScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[2], 'receipt', 'deadline', 'expires_at')
if (not f[1]) or f[1] ~= ARGV[2] then
  return 0
end
local now = tonumber(ARGV[3])
if tonumber(f[2]) <= now or tonumber(f[3]) <= now then
  return 0
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

// KEYS[1] schedule, KEYS[2] msg key; ARGV[1] id, ARGV[2] receipt, ARGV[3] now.
var makeVisibleScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[2], 'receipt', 'deadline', 'expires_at')
if (not f[1]) or f[1] ~= ARGV[2] then
  return 0
end
local now = tonumber(ARGV[3])
if tonumber(f[2]) <= now or tonumber(f[3]) <= now then
  return 0
end
redis.call('HDEL', KEYS[2], 'receipt', 'deadline')
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// KEYS[1] schedule; ARGV[1] msg key prefix, ARGV[2] now.
var purgeScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local expires = tonumber(redis.call('HGET', key, 'expires_at'))
  if (not expires) or expires <= now then
    redis.call('ZREM', KEYS[1], id)
    redis.call('DEL', key)
    n = n + 1
  end
end
return n
`)

// KEYS[1] schedule; ARGV[1] msg key prefix.
var clearScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)
