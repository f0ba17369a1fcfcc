package resource_manager

import (
	"container/list"
	"context"
	"sync"

	"github.com/eleven-am/weft/internal/domain"
)

// classPool is a counting semaphore with a FIFO wait queue. A release with
// waiters hands the slot straight to the queue head, so active never drops
// and a later arrival cannot overtake.
type classPool struct {
	mu       sync.Mutex
	class    domain.ResourceClass
	limit    int
	active   int
	peak     int
	acquired int64
	waiters  list.List
}

func newClassPool(class domain.ResourceClass, limit int) *classPool {
	return &classPool{class: class, limit: limit}
}

func (p *classPool) take() {
	p.active++
	p.acquired++
	if p.active > p.peak {
		p.peak = p.active
	}
}

// acquire reports whether the caller had to queue.
func (p *classPool) acquire(ctx context.Context) (queued bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	if p.active < p.limit && p.waiters.Len() == 0 {
		p.take()
		p.mu.Unlock()
		return false, nil
	}

	ready := make(chan struct{})
	elem := p.waiters.PushBack(ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return true, nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-ready:
			// Granted while we were giving up. Pass it on.
			p.mu.Unlock()
			_ = p.release()
		default:
			p.waiters.Remove(elem)
			p.mu.Unlock()
		}
		return true, ctx.Err()
	}
}

func (p *classPool) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active <= 0 {
		return domain.NewResourceError("release without matching acquire", domain.ErrInvalidState,
			domain.WithComponent("resource-manager"),
			domain.WithOperation("release"),
			domain.WithDetail("class", string(p.class)),
		)
	}

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		p.acquired++
		close(front.Value.(chan struct{}))
		return nil
	}

	p.active--
	return nil
}

func (p *classPool) snapshot() (limit, active, waiting, peak int, acquired int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit, p.active, p.waiters.Len(), p.peak, p.acquired
}
