// Package loadbalance picks which oracle instance serves a client call.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances, chosen in proportion to Weight
package loadbalance

import (
	"fmt"

	"foreign-oracle/registry"
)

// Balancer selects one instance per call. Implementations must be safe for
// concurrent use.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
