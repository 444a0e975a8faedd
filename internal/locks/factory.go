package locks

import (
	"time"

	"flow-triggers/internal/redis"
)

// NewDistributedLockManager creates a Redlock-backed manager shared by every
// process pointed at the same Redis.
//
// Example:
//
//	lockManager, err := locks.NewDistributedLockManager(redisClient, 30*time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer lockManager.Close()
func NewDistributedLockManager(redisClient *redis.Client, orgTTL time.Duration) (LockManagerInterface, error) {
	return NewRedsyncManager(redisClient, orgTTL)
}

// NewLockManager returns the distributed manager when a Redis client is
// available and an in-process manager otherwise.
func NewLockManager(redisClient *redis.Client, orgTTL time.Duration) (LockManagerInterface, error) {
	if redisClient == nil {
		return NewLocalManager(), nil
	}
	return NewDistributedLockManager(redisClient, orgTTL)
}
