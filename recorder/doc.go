// Package recorder stores protocol traffic in a SQLite database.
//
// A [Recorder] implements [protocol.Observer]. Attach it to a session
// configuration, or to an engine with engine.WithRecorder, and every frame
// the session sends or receives is written with its direction, kind and
// arrival time. Several sessions can share one database file; each
// recorder tags its rows with a session label.
//
// Writes happen on a background goroutine so that observing never stalls
// the session I/O loop. When the backlog is full, frames are dropped and
// counted rather than blocking.
package recorder
