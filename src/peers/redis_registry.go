package peers

import (
	"sort"

	"github.com/go-redis/redis"
)

// DefaultRedisKey is the Redis hash holding the introduced peers.
const DefaultRedisKey = "peers"

// removeScript decrements the count of a peer and deletes the field once no
// connection holds it, in one atomic step.
var removeScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// RedisRegistry implements the Registry interface with a Redis hash mapping
// each peer to the number of connections introduced with its identifier. It
// is shared by every relay process using the same Redis.
type RedisRegistry struct {
	client *redis.Client
	key    string
}

// NewRedisRegistry returns a RedisRegistry stored under key.
func NewRedisRegistry(client *redis.Client, key string) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		key:    key,
	}
}

// Add implements the Registry interface.
func (r *RedisRegistry) Add(peerID string) error {
	return r.client.HIncrBy(r.key, peerID, 1).Err()
}

// Remove implements the Registry interface.
func (r *RedisRegistry) Remove(peerID string) error {
	return removeScript.Run(r.client, []string{r.key}, peerID).Err()
}

// List implements the Registry interface.
func (r *RedisRegistry) List() ([]string, error) {
	res, err := r.client.HKeys(r.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}

// Clear implements the Registry interface.
func (r *RedisRegistry) Clear() error {
	return r.client.Del(r.key).Err()
}
