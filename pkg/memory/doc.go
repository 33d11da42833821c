// Package memory is the hybrid retrieval engine: a durable SQLite store with
// an FTS5 keyword table, paired with an in-process vector index that is a
// rebuildable cache over the store. Searches blend vector similarity and
// normalized keyword relevance; non-default agents only see their own records.
package memory
