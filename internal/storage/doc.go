// Package storage provides jsondb.Backend implementations.
//
// [FileBackend] stores the document in a single file and replaces it
// atomically on every save. [VersionedBackend] additionally commits each
// change to a git repository. [SQLiteBackend] keeps the document in a SQLite
// database. [MemoryBackend] keeps it in memory.
//
// [Watcher] reports changes made to a file by other processes.
package storage
