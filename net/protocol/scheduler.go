package protocol

import (
	"time"
)

// EveryScheduler 每隔 Interval 执行一次
type EveryScheduler struct {
	Interval time.Duration
}

func (this *EveryScheduler) Next(prev time.Time) time.Time {
	return prev.Add(this.Interval)
}
