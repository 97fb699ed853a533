package lifecycle

import (
	"sync"
)

// lockTable 按请求 ID 串行化状态转换
// 同一请求上的并发操作互斥，不同请求互不阻塞；
// 条目带引用计数，最后一个持有者释放时回收，表不随请求数无界增长
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{
		entries: make(map[string]*lockEntry),
	}
}

// acquire 获取指定请求的互斥锁，返回释放函数
func (t *lockTable) acquire(requestID string) func() {
	t.mu.Lock()
	entry, ok := t.entries[requestID]
	if !ok {
		entry = &lockEntry{}
		t.entries[requestID] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		t.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(t.entries, requestID)
		}
		t.mu.Unlock()
	}
}
