// Package regioncache is the access layer a second-level cache uses in front
// of a clustered, tree-addressed store.
//
// Components:
//   - store.Store: the tree cache (store/memory for in-process members joined
//     by a Transport, store/redis for a shared Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - version: per-call optimistic-concurrency strategies (CircumventChecks,
//     NonLocking, Numeric).
//   - consistency: what the store's cache mode means for propagation.
//   - nearcache: a member-local copy per region on a provider, dropped on
//     tree events and eviction markers; putfromload guards loads against
//     concurrent invalidation.
//   - config: YAML settings for the cluster, Redis, NATS and regions.
//
// Addresses:
//
//	<region>/<key>                     entry; value in slot "item"
//	<region>/internal/<member|local>   evict-all marker
//	<region>/internal/<member|local>/<key>  evict marker
//
// Read-through pattern:
//
//	v, ok, _ := acc.GetAllowingTimeout(ctx, region, k) // never blocks on writers
//	if !ok {
//		v = loadFromDB(k)
//		_, _ = acc.PutForExternalRead(ctx, region, k, v, nil) // loses races quietly
//	}
package regioncache
