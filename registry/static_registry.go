package registry

import (
	"context"
	"sync"
)

// StaticRegistry is an in-process Registry for fixed endpoints, used when no
// etcd cluster is configured. TTLs are ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

// NewStaticRegistry creates a registry pre-populated with addrs under
// serviceName, each with weight 1.
func NewStaticRegistry(serviceName string, addrs ...string) *StaticRegistry {
	r := &StaticRegistry{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
	for _, addr := range addrs {
		r.instances[serviceName] = append(r.instances[serviceName], ServiceInstance{Addr: addr, Weight: 1})
	}
	return r
}

func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == instance.Addr {
			insts[i] = instance
			r.notify(serviceName)
			return nil
		}
	}
	r.instances[serviceName] = append(insts, instance)
	r.notify(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			r.notify(serviceName)
			break
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(serviceName), nil
}

// Watch emits the current list, then the full list after every Register or
// Deregister, until ctx is cancelled. A slow reader only sees the latest list.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	ch <- r.snapshot(serviceName)
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[serviceName]
		for i, w := range watchers {
			if w == ch {
				r.watchers[serviceName] = append(watchers[:i:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// snapshot copies the instance list. Callers hold mu.
func (r *StaticRegistry) snapshot(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, len(r.instances[serviceName]))
	copy(out, r.instances[serviceName])
	return out
}

// notify replaces whatever a watcher has not read yet with the current list.
// Callers hold mu, so this is the only sender and the send cannot block.
func (r *StaticRegistry) notify(serviceName string) {
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- r.snapshot(serviceName)
	}
}
