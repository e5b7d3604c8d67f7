package redis

const (
	// createActiveSessionScript atomically checks the per-user active
	// pointer and creates the session. Two concurrent starts for the same
	// user can never both succeed because the script runs as one unit.
	createActiveSessionScript = `
local active_ptr = KEYS[1]     -- timewarden:session:active:{userID}
local session_key = KEYS[2]    -- timewarden:session:{sessionID}
local active_set = KEYS[3]     -- timewarden:sessions:active

local session_id = ARGV[1]
local user_id = ARGV[2]
local session_type = ARGV[3]
local started_at = ARGV[4]

if redis.call('EXISTS', active_ptr) == 1 then
  return 0
end

redis.call('HSET', session_key,
  'id', session_id,
  'user_id', user_id,
  'type', session_type,
  'started_at', started_at,
  'duration_minutes', 0,
  'running', '1'
)
redis.call('SET', active_ptr, session_id)
redis.call('SADD', active_set, session_id)

return 1
`

	// upsertSessionScript updates a session and its indexes. Ending a
	// session clears the per-user active pointer only when it still points
	// at this session, and applies the retention TTL (90 days).
	upsertSessionScript = `
local active_ptr = KEYS[1]     -- timewarden:session:active:{userID}
local session_key = KEYS[2]    -- timewarden:session:{sessionID}
local active_set = KEYS[3]     -- timewarden:sessions:active

local session_id = ARGV[1]
local user_id = ARGV[2]
local session_type = ARGV[3]
local started_at = ARGV[4]
local ended_at = ARGV[5]
local duration_minutes = ARGV[6]
local running = ARGV[7]

redis.call('HSET', session_key,
  'id', session_id,
  'user_id', user_id,
  'type', session_type,
  'started_at', started_at,
  'duration_minutes', duration_minutes,
  'running', running
)
if ended_at ~= '' then
  redis.call('HSET', session_key, 'ended_at', ended_at)
end

if running == '1' then
  redis.call('SET', active_ptr, session_id)
  redis.call('SADD', active_set, session_id)
else
  if redis.call('GET', active_ptr) == session_id then
    redis.call('DEL', active_ptr)
  end
  redis.call('SREM', active_set, session_id)
  redis.call('EXPIRE', session_key, 7776000)
end

return 'OK'
`

	// upsertDailyUsageScript writes a ledger row, maintains the date index,
	// and applies the retention TTL (90 days) on first write.
	upsertDailyUsageScript = `
local usage_key = KEYS[1]      -- timewarden:usage:{date}:{userID}
local index_key = KEYS[2]      -- timewarden:usage:index:{date}

local user_id = ARGV[1]
local date = ARGV[2]
local base_allowed = ARGV[3]
local bonus_earned = ARGV[4]
local bonus_used = ARGV[5]
local regular_used = ARGV[6]
local remaining = ARGV[7]
local last_ended = ARGV[8]

local exists = redis.call('EXISTS', usage_key)

redis.call('HSET', usage_key,
  'user_id', user_id,
  'date', date,
  'base_allowed_minutes', base_allowed,
  'bonus_earned_minutes', bonus_earned,
  'bonus_used_minutes', bonus_used,
  'regular_used_minutes', regular_used,
  'remaining_minutes', remaining
)
if last_ended ~= '' then
  redis.call('HSET', usage_key, 'last_session_ended_at', last_ended)
else
  redis.call('HDEL', usage_key, 'last_session_ended_at')
end

if exists == 0 then
  redis.call('EXPIRE', usage_key, 7776000)
  redis.call('SADD', index_key, user_id)
  redis.call('EXPIRE', index_key, 7776000)
end

return 'OK'
`
)
