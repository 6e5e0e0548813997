// Package synctree layers a synchronized, optionally encrypted virtual
// directory tree over a content-addressed blob store and a replicated
// tree index.
//
// Callers perform familiar filesystem operations against logical
// paths; the engine materializes the current tree into a single
// content identifier (CID) after every mutation or replication event.
// The root CID is an immutable, shareable handle to the whole tree.
//
// Basic usage:
//
//	idx, _ := index.New(filepath.Join(dir, "index.db"))
//	store, _ := blob.New(filepath.Join(dir, "blobs"))
//
//	tree, _ := synctree.New(idx, store, synctree.WithAutoStart(), synctree.WithLoad())
//	defer tree.Stop(false)
//
//	tree.Mkdir("/", "docs")
//	tree.Mkfile("/docs", "a.txt")
//	tree.Mutate("/docs/a.txt", cid)
//
//	tree.Flush()
//	root, _ := tree.Read(ctx, "/")
//
// Recomputation runs on a single-worker serial queue, so executions
// never overlap. Triggers that arrive while a job is already waiting
// are coalesced into it. Stop drains the queue before releasing the
// index.
//
// Content confidentiality is provided by an injected cipher suite:
// EncryptContent produces a single-use key/IV pair per payload, and
// SharedCrypter derives an identical cipher on both sides of an ECDH
// key agreement without transmitting the secret.
package synctree
