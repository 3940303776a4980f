// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/docintake/internal/models"
)

// keyPrefix namespaces tracking records in Redis.
const keyPrefix = "docintake:tracking:"

// putUnlessProcessed stores the record in a hash unless its status field is
// already "processed". Returns 1 on write, 0 when rejected.
var putUnlessProcessed = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'processed' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'record', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisStore keeps tracking records as Redis hashes. The conditional write
// runs as one Lua script so concurrent writers cannot interleave.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed ledger store. A zero retention keeps
// records forever.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func (s *RedisStore) Get(ctx context.Context, messageID string) (*models.TrackingRecord, error) {
	raw, err := s.rdb.HGet(ctx, keyPrefix+messageID, "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET: %w", err)
	}
	var rec models.TrackingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode tracking record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) PutConditional(ctx context.Context, rec models.TrackingRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tracking record: %w", err)
	}
	written, err := putUnlessProcessed.Run(ctx, s.rdb,
		[]string{keyPrefix + rec.MessageID},
		string(rec.Status), string(payload), s.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis conditional put: %w", err)
	}
	if written == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}
