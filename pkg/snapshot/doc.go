// Package snapshot defines persistence-facing contracts for storing the
// config trees a pipeline run produces, plus an in-memory store for tests
// and examples.
//
// Responsibilities:
//   - Store only loads/saves one tree per Ref; naming and layout beyond
//     Ref.Identifier() belong to the implementation.
//   - The core hydra package stays persistence-agnostic; it hands a
//     serialized tree to the driver, and the driver picks a Store.
//
// Deterministic keys:
//
//	Ref.Identifier() yields "<run>/<name>", so one run may keep several
//	snapshots (the composed tree, the resolved tree, a re-serialized graph)
//	under stable, collision-free keys.
//
// Concurrency control:
//
//	Meta.ETag changes on every save. A caller passing the ETag it last
//	observed gets ErrETagMismatch if the record moved underneath it;
//	passing an empty ETag writes unconditionally.
package snapshot
