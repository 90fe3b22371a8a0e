package cache

import "time"

func (p *LocalPayloads) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (g *LocalGenerations) Len() int {
	n := 0
	g.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
