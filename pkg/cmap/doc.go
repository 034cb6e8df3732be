// Package cmap provides a sharded, concurrency-safe map keyed by strings.
//
// Keys are spread over a power-of-two number of shards using murmur3, each
// shard guarded by its own RWMutex. It backs the refresh task registry, where
// pollers read concurrently with the single writer finishing a task.
//
// Usage:
//
//	m := cmap.New[*Task]()
//	m.Set(id, task)
//	task, ok := m.Get(id)
//	m.DeleteFunc(func(id string, t *Task) bool { return t.Expired(now) })
package cmap
