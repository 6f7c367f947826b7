// Package registry lets oracle instances announce themselves and lets
// clients find them.
//
// The etcd implementation stores one key per instance:
//
//	Key:   /foreign-oracle/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Keys are attached to a TTL lease kept alive in the background, so a crashed
// oracle disappears once its lease expires.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/foreign-oracle/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	leases sync.Map // key → clientv3.LeaseID
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func instanceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

func servicePrefix(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

// Register puts the instance under a lease of ttl seconds and keeps the
// lease alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive must outlive the registration call, so it is not tied
	// to ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	r.leases.Store(key, lease.ID)

	// Drain keepalive responses so the channel never fills.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister revokes the instance's lease, which deletes its key and stops
// the keepalive. Instances registered elsewhere are deleted directly.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := instanceKey(serviceName, addr)
	if id, ok := r.leases.LoadAndDelete(key); ok {
		_, err := r.client.Revoke(ctx, id.(clientv3.LeaseID))
		return err
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch emits the current instance list, then the full list after every
// change under the service prefix, until ctx is cancelled.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)

		instances, rev, err := r.list(ctx, serviceName)
		if err != nil {
			return
		}
		select {
		case ch <- instances:
		case <-ctx.Done():
			return
		}

		// Start right after the snapshot so no change is missed in between.
		watchChan := r.client.Watch(ctx, servicePrefix(serviceName),
			clientv3.WithPrefix(), clientv3.WithRev(rev+1))
		for range watchChan {
			// Re-read the whole list rather than applying individual events.
			instances, _, err := r.list(ctx, serviceName)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	instances, _, err := r.list(ctx, serviceName)
	return instances, err
}

// list reads the instances under the service prefix and the store revision
// they were read at.
func (r *EtcdRegistry) list(ctx context.Context, serviceName string) ([]ServiceInstance, int64, error) {
	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, resp.Header.Revision, nil
}

// Close releases the etcd client. Leases still held expire after their TTL.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
