package zgraph

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// DBResolver routes work between a primary pool and read replicas. As a
// ConnectionProvider it runs on the primary; ForRead returns a provider
// that balances over the replicas.
type DBResolver struct {
	primary  *sql.DB
	replicas []*sql.DB
	lb       LoadBalancer
}

// LoadBalancer selects a replica from a pool.
type LoadBalancer interface {
	Next(replicas []*sql.DB) *sql.DB
}

// RoundRobinLoadBalancer distributes load across replicas using round-robin.
type RoundRobinLoadBalancer struct {
	counter uint64
}

// Next returns the next replica in round-robin order.
func (r *RoundRobinLoadBalancer) Next(replicas []*sql.DB) *sql.DB {
	switch len(replicas) {
	case 0:
		return nil
	case 1:
		return replicas[0]
	}
	idx := atomic.AddUint64(&r.counter, 1) - 1
	return replicas[idx%uint64(len(replicas))]
}

// ResolverOption configures a DBResolver.
type ResolverOption func(*DBResolver)

// WithPrimary sets the primary pool.
func WithPrimary(db *sql.DB) ResolverOption {
	return func(r *DBResolver) { r.primary = db }
}

// WithReplicas sets the replica pools.
func WithReplicas(dbs ...*sql.DB) ResolverOption {
	return func(r *DBResolver) { r.replicas = dbs }
}

// WithLoadBalancer sets the replica selection strategy. The default is
// round-robin.
func WithLoadBalancer(lb LoadBalancer) ResolverOption {
	return func(r *DBResolver) { r.lb = lb }
}

// NewDBResolver builds a resolver from options.
func NewDBResolver(opts ...ResolverOption) *DBResolver {
	r := &DBResolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.lb == nil {
		r.lb = &RoundRobinLoadBalancer{}
	}
	return r
}

// Primary returns the primary pool.
func (r *DBResolver) Primary() *sql.DB { return r.primary }

// Replica returns a replica chosen by the load balancer, or the primary
// when there are no replicas.
func (r *DBResolver) Replica() *sql.DB {
	if len(r.replicas) == 0 {
		return r.primary
	}
	return r.lb.Next(r.replicas)
}

// ReplicaAt returns a specific replica by index, nil when out of range.
func (r *DBResolver) ReplicaAt(index int) *sql.DB {
	if index < 0 || index >= len(r.replicas) {
		return nil
	}
	return r.replicas[index]
}

// HasReplicas reports whether replicas are configured.
func (r *DBResolver) HasReplicas() bool { return len(r.replicas) > 0 }

// ForWrite returns a provider running on the primary.
func (r *DBResolver) ForWrite() ConnectionProvider {
	return NewDBProvider(r.primary)
}

// ForRead returns a provider running each call on one replica.
func (r *DBResolver) ForRead() ConnectionProvider {
	return readProvider{r}
}

func (r *DBResolver) RunWithConnection(ctx context.Context, fn func(context.Context, Conn) error) error {
	return NewDBProvider(r.primary).RunWithConnection(ctx, fn)
}

type readProvider struct {
	r *DBResolver
}

func (p readProvider) RunWithConnection(ctx context.Context, fn func(context.Context, Conn) error) error {
	return NewDBProvider(p.r.Replica()).RunWithConnection(ctx, fn)
}
