package redis

// All pair timestamps are stored as unix milliseconds so Lua can compare
// them without losing precision. Scripts write timestamps from ARGV strings,
// never from Lua numbers, so the stored form stays an integer.

const (
	statusOK       = "OK"
	statusNotFound = "NOT_FOUND"
	statusExists   = "EXISTS"
	statusQuota    = "QUOTA"
	statusConsumed = "CONSUMED"
	statusReplayed = "REPLAYED"
	statusNotReady = "NOT_READY"
)

// quotaPrelude is shared by every script that gates on the pair's plan.
const quotaPrelude = `
local function unlimited(key)
  local tier = redis.call('HGET', key, 'plan_tier')
  local remaining = tonumber(redis.call('HGET', key, 'actions_remaining') or '0')
  return tier == 'unlimited' or remaining == -1
end

local function quota_ok(key, now_ms, trial_ms)
  if unlimited(key) then
    return true
  end
  local remaining = tonumber(redis.call('HGET', key, 'actions_remaining') or '0')
  if remaining <= 0 then
    return false
  end
  local tier = redis.call('HGET', key, 'plan_tier')
  if tier == 'trial' and trial_ms > 0 then
    local started = tonumber(redis.call('HGET', key, 'trial_started_at') or '0')
    if now_ms >= started + trial_ms then
      return false
    end
  end
  return true
end
`

const (
	// createPairScript creates a pair hash unless the key is taken
	createPairScript = `
local pair_key = KEYS[1]        -- duet:pair:{pairID}

if redis.call('EXISTS', pair_key) == 1 then
  return {'EXISTS'}
end

redis.call('HSET', pair_key,
  'id', ARGV[1],
  'created_at', ARGV[2],
  'actions_remaining', ARGV[3],
  'plan_tier', ARGV[4],
  'trial_started_at', ARGV[5],
  'consumed_count', 0
)

return {'OK', redis.call('HGETALL', pair_key)}
`

	// setPressedScript writes one member's press field after the quota gate
	setPressedScript = quotaPrelude + `
local pair_key = KEYS[1]        -- duet:pair:{pairID}

local field = ARGV[1]           -- member1_pressed_at | member2_pressed_at
local at_ms = ARGV[2]
local now_ms = tonumber(ARGV[3])
local trial_ms = tonumber(ARGV[4])

if redis.call('EXISTS', pair_key) == 0 then
  return {'NOT_FOUND'}
end

if not quota_ok(pair_key, now_ms, trial_ms) then
  return {'QUOTA'}
end

redis.call('HSET', pair_key, field, at_ms)

return {'OK', redis.call('HGETALL', pair_key)}
`

	// clearPressesScript clears both press fields
	clearPressesScript = `
local pair_key = KEYS[1]        -- duet:pair:{pairID}

if redis.call('EXISTS', pair_key) == 0 then
  return {'NOT_FOUND'}
end

redis.call('HDEL', pair_key, 'member1_pressed_at', 'member2_pressed_at')

return {'OK', redis.call('HGETALL', pair_key)}
`

	// consumeScript is the single consumption path. When both presses are
	// inside the TTL it checks quota, decrements, clears both presses and
	// records the occurrence marker and result in one step. A caller that
	// loses the race finds the presses cleared and gets the stored result
	// back while it is inside the replay window. Otherwise an exhausted
	// quota is reported ahead of not-ready.
	consumeScript = quotaPrelude + `
local pair_key = KEYS[1]        -- duet:pair:{pairID}

local now_ms = tonumber(ARGV[1])
local ttl_ms = tonumber(ARGV[2])
local replay_ms = tonumber(ARGV[3])
local trial_ms = tonumber(ARGV[4])
local result = ARGV[5]

if redis.call('EXISTS', pair_key) == 0 then
  return {'NOT_FOUND'}
end

local function ready(value)
  return value and value ~= '' and (now_ms - tonumber(value)) < ttl_ms
end

local m1 = redis.call('HGET', pair_key, 'member1_pressed_at')
local m2 = redis.call('HGET', pair_key, 'member2_pressed_at')

if ready(m1) and ready(m2) then
  if not quota_ok(pair_key, now_ms, trial_ms) then
    return {'QUOTA'}
  end

  if not unlimited(pair_key) then
    redis.call('HINCRBY', pair_key, 'actions_remaining', -1)
  end

  redis.call('HDEL', pair_key, 'member1_pressed_at', 'member2_pressed_at')
  redis.call('HSET', pair_key,
    'last_consumed_at', ARGV[1],
    'last_occurrence', m1 .. ':' .. m2,
    'last_result', result
  )
  redis.call('HINCRBY', pair_key, 'consumed_count', 1)

  return {'CONSUMED', redis.call('HGETALL', pair_key)}
end

local last = redis.call('HGET', pair_key, 'last_consumed_at')
if last and last ~= '' and (now_ms - tonumber(last)) < replay_ms then
  return {'REPLAYED', redis.call('HGETALL', pair_key)}
end

if not quota_ok(pair_key, now_ms, trial_ms) then
  return {'QUOTA'}
end

return {'NOT_READY'}
`

	// setPlanScript overwrites plan tier and remaining actions
	setPlanScript = `
local pair_key = KEYS[1]        -- duet:pair:{pairID}

if redis.call('EXISTS', pair_key) == 0 then
  return {'NOT_FOUND'}
end

redis.call('HSET', pair_key,
  'plan_tier', ARGV[1],
  'actions_remaining', ARGV[2]
)

return {'OK', redis.call('HGETALL', pair_key)}
`
)
