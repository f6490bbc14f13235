package redis

const (
	// saveDraftScript stores a draft only if the caller saw the current revision.
	// Returns the new revision, or -1 on a stale revision.
	saveDraftScript = `
local draft_key = KEYS[1]      -- homeguard:draft

local expected = tonumber(ARGV[1])
local payload = ARGV[2]
local saved_at = ARGV[3]

local current = tonumber(redis.call('HGET', draft_key, 'revision') or '0')
if current ~= expected then
  return -1
end

local next_revision = current + 1
redis.call('HSET', draft_key,
  'revision', next_revision,
  'payload', payload,
  'saved_at', saved_at
)

return next_revision
`

	// replaceLeasesScript swaps the whole lease cache in one step
	replaceLeasesScript = `
local leases_set = KEYS[1]     -- homeguard:leases

local lease_prefix = ARGV[1]   -- homeguard:lease:
local now = tonumber(ARGV[2])

-- Drop the previous generation
local previous = redis.call('SMEMBERS', leases_set)
for _, mac in ipairs(previous) do
  redis.call('DEL', lease_prefix .. mac)
end
redis.call('DEL', leases_set)

-- Each lease is six arguments: mac, ip, hostname, expires_at, expires_unix, updated_at
local count = 0
for i = 3, #ARGV, 6 do
  local mac = ARGV[i]
  local lease_key = lease_prefix .. mac
  redis.call('HSET', lease_key,
    'mac', mac,
    'ip', ARGV[i + 1],
    'hostname', ARGV[i + 2],
    'expires_at', ARGV[i + 3],
    'updated_at', ARGV[i + 5]
  )

  local expires_unix = tonumber(ARGV[i + 4])
  if expires_unix > 0 and expires_unix > now then
    redis.call('EXPIRE', lease_key, expires_unix - now)
  end

  redis.call('SADD', leases_set, mac)
  count = count + 1
end

return count
`
)
