package globalstate

import (
	"sync"
	"time"
)

// StatusManager 保存订阅服务器当前的一行状态描述及其更新时间。
type StatusManager struct {
	mu        sync.RWMutex
	status    string
	updatedAt time.Time
}

// 全局的状态管理器实例
var GlobalStatus = &StatusManager{status: "Initializing..."}

func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = newStatus
	sm.updatedAt = time.Now()
}

func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

// UpdatedAt is when the status last changed. Zero until the first Set.
func (sm *StatusManager) UpdatedAt() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.updatedAt
}
