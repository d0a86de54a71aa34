// Package jsondb provides an embedded document store backed by a single JSON
// document.
//
// # Overview
//
// A [Database] holds a set of named tables. Each table declares an ordered
// [Schema] of attributes and stores an ordered sequence of [Record] values.
// Every record carries a store-assigned, strictly increasing "_id".
//
// # Validation
//
// Mutations run through [Validate] (insert) or [ValidatePatch] (update)
// before touching in-memory state. The first declared attribute that fails
// determines the reported error. Keys not declared by the schema are kept
// as-is on insert and rejected on update.
//
// # Persistence
//
// After every successful mutation the whole document is serialized and handed
// to the [Backend]. There are no partial writes. When the backend fails, the
// in-memory state keeps the mutation and an [*IOError] is returned.
//
// # File Format
//
//	{"tables": [{"_name": "...", "_records": [...], "_attributes": [...]}]}
package jsondb
