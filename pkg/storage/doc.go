// Package storage defines the SessionStore contract and helpers shared by
// its adapters (memory, sqlite, postgres).
//
// A store maps opaque session ids to append-only item logs. Every adapter
// guarantees:
//   - sessions are created implicitly on first reference;
//   - Append is atomic with respect to Snapshot and assigns gapless
//     sequence numbers continuing from the current tail;
//   - Append, Clear, and CloseSession are serialized per session id while
//     different ids proceed independently;
//   - operations on a closed id fail with api.ErrSessionClosed;
//   - I/O failures surface as api.ErrStorageFailure and leave the log as of
//     the last successful write.
package storage
