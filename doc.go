// Package kvlite implements a partitioned, durable key/value cache backed
// by a relational database. Construct a Settings, open a Cache, and use
// AddSliding/AddStatic/AddTimed to write and the package-level Get/Peek/
// GetMany/PeekMany functions to read:
//
//	settings := &kvlite.Settings{Backend: kvlite.BackendSQLite, CacheFile: "cache.db"}
//	cache, err := kvlite.Open(ctx, settings)
//	if err != nil { ... }
//	defer cache.Close()
//
//	_ = cache.AddSliding(ctx, "sessions", "user-42", session, 900)
//	session, ok := kvlite.Get[Session](ctx, cache, "sessions", "user-42")
package kvlite
