package viewlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petermazzocco/go-image-sharing/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each day as a lexically sorted set of row keys plus a
// hash from row key to the encoded entry.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) partitionsKey() string {
	return s.prefix + ":viewlog:partitions"
}

func (s *RedisStore) rowsKey(pk string) string {
	return s.prefix + ":viewlog:rows:" + pk
}

func (s *RedisStore) entriesKey(pk string) string {
	return s.prefix + ":viewlog:entries:" + pk
}

func (s *RedisStore) Append(ctx context.Context, e models.LogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.partitionsKey(), redis.Z{Member: e.PartitionKey})
		pipe.ZAdd(ctx, s.rowsKey(e.PartitionKey), redis.Z{Member: e.RowKey})
		pipe.HSet(ctx, s.entriesKey(e.PartitionKey), e.RowKey, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append view entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Page(ctx context.Context, q Query, cursor string, limit int) ([]models.LogEntry, string, error) {
	var startPK, afterRK string
	if cursor != "" {
		var err error
		if startPK, afterRK, err = decodeCursor(cursor); err != nil {
			return nil, "", err
		}
	}

	var partitions []string
	if q.Partition != "" {
		if startPK == "" || q.Partition == startPK {
			partitions = []string{q.Partition}
		}
	} else {
		hi := "+"
		if startPK != "" {
			hi = "[" + startPK
		}
		var err error
		partitions, err = s.rdb.ZRevRangeByLex(ctx, s.partitionsKey(), &redis.ZRangeBy{Min: "-", Max: hi}).Result()
		if err != nil {
			return nil, "", err
		}
	}

	entries := make([]models.LogEntry, 0, limit)
	for _, pk := range partitions {
		if len(entries) >= limit {
			break
		}
		lo := "-"
		if pk == startPK && afterRK != "" {
			lo = "(" + afterRK
		}
		rows, err := s.rdb.ZRangeByLex(ctx, s.rowsKey(pk), &redis.ZRangeBy{
			Min:   lo,
			Max:   "+",
			Count: int64(limit - len(entries)),
		}).Result()
		if err != nil {
			return nil, "", err
		}
		if len(rows) == 0 {
			continue
		}
		values, err := s.rdb.HMGet(ctx, s.entriesKey(pk), rows...).Result()
		if err != nil {
			return nil, "", err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				return nil, "", fmt.Errorf("view entry %s/%s missing", pk, rows[i])
			}
			var e models.LogEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, "", err
			}
			entries = append(entries, e)
		}
	}

	next := ""
	if len(entries) == limit && limit > 0 {
		next = encodeCursor(entries[len(entries)-1])
	}
	return entries, next, nil
}
