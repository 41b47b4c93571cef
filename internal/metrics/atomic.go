package metrics

import "sync/atomic"

func atomicAdd(p *int64, delta int64) { atomic.AddInt64(p, delta) }
func atomicLoad(p *int64) int64       { return atomic.LoadInt64(p) }
