// Package store persists conversation history.
//
// A ConversationStore holds every conversation in memory and writes the full
// set through to a KV backend as one JSON array under ConversationsKey after
// each change. Three backends are provided:
//
//   - SQLiteKV: a kv table in a local SQLite database (modernc.org/sqlite)
//   - FileKV: one JSON file per key on an afero filesystem
//   - MemoryKV: in-memory, with failure injection for tests
//
// Derived metadata is recomputed on every message change:
//
//   - TotalMessages always equals len(Messages)
//   - LastAIResponse is the content of the latest AI message, or ""
//   - Title is taken from the first user message (50 runes, then "...")
package store
