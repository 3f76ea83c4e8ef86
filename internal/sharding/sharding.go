package sharding

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ShardCount is the fixed number of subject partitions.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for an entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// CommandSubject returns the subject a user's schedule commands are published on.
// Format: schedule.command.{shard_id}.user.{user_id}
func CommandSubject(userID string) string {
	return subject("command", GetShardID(userID), userID)
}

// EventSubject returns the subject for a user's domain events on a shard.
// Format: schedule.event.{shard_id}.user.{user_id}
func EventSubject(shardID int, userID string) string {
	return subject("event", shardID, userID)
}

// ShardFromSubject reads the shard segment of a schedule subject and falls
// back to hashing entityID when the subject is malformed.
func ShardFromSubject(entityID, subject string) int {
	parts := strings.Split(subject, ".")
	if len(parts) > 2 {
		if shard, err := strconv.Atoi(parts[2]); err == nil && shard >= 0 && shard < ShardCount {
			return shard
		}
	}
	return GetShardID(entityID)
}

func subject(kind string, shardID int, userID string) string {
	return fmt.Sprintf("schedule.%s.%d.user.%s", kind, shardID, userID)
}
