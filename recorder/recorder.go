package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultBacklog is the number of frames buffered ahead of the writer.
const DefaultBacklog = 1024

// ErrClosed is returned by operations on a closed recorder.
var ErrClosed = errors.New("recorder closed")

const schema = `CREATE TABLE IF NOT EXISTS frames (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	session   TEXT    NOT NULL,
	at        INTEGER NOT NULL,
	direction TEXT    NOT NULL,
	kind      INTEGER NOT NULL,
	payload   BLOB
);
CREATE INDEX IF NOT EXISTS frames_session ON frames(session, id);`

// Frame is one recorded message.
type Frame struct {
	ID        int64
	Session   string
	Time      time.Time
	Direction protocol.Direction
	Kind      frame.Kind
	Payload   []byte
}

// entry is a queued write, or a flush barrier when flushed is set.
type entry struct {
	frame   Frame
	flushed chan error
}

// Recorder writes observed frames to SQLite.
type Recorder struct {
	db      *sql.DB
	path    string
	session string
	now     func() time.Time
	log     *zap.Logger

	mu      sync.RWMutex // guards closed against Observe
	closed  bool
	entries chan entry
	done    chan struct{}
	dropped atomic.Uint64
}

// Open opens or creates the database at path and returns a recorder that
// labels its frames with session.
func Open(path, session string) (*Recorder, error) {
	return open(path, session, DefaultBacklog, time.Now)
}

func open(path, session string, backlog int, now func() time.Time) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", pkg.ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create frames table: %w", err)
	}

	r := &Recorder{
		db:      db,
		path:    path,
		session: session,
		now:     now,
		log:     pkg.Logger(pkg.ComponentRecorder).With(zap.String("session", session)),
		entries: make(chan entry, backlog),
		done:    make(chan struct{}),
	}
	go r.write()
	r.log.Debug("recorder opened", zap.String("path", path))
	return r, nil
}

// Observe queues msg for writing. It never blocks; when the backlog is full
// the frame is dropped.
func (r *Recorder) Observe(dir protocol.Direction, msg frame.Message) {
	f := Frame{
		Session:   r.session,
		Time:      r.now(),
		Direction: dir,
		Kind:      msg.Kind,
		Payload:   append([]byte(nil), msg.Payload...),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- entry{frame: f}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%DefaultBacklog == 0 {
			r.log.Warn("recorder backlog full, dropping frames", zap.Uint64("dropped", n))
		}
	}
}

// Dropped returns the number of frames lost to a full backlog.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Flush waits until every frame observed so far is written.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	select {
	case r.entries <- entry{flushed: done}:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames returns the frames recorded under this recorder's session, oldest
// first, after flushing pending writes.
func (r *Recorder) Frames(ctx context.Context) ([]Frame, error) {
	if err := r.Flush(ctx); err != nil {
		return nil, err
	}
	return Query(ctx, r.db, r.session)
}

// Query reads the frames of one session from an open database.
func Query(ctx context.Context, db *sql.DB, session string) ([]Frame, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, session, at, direction, kind, payload FROM frames WHERE session = ? ORDER BY id`,
		session)
	if err != nil {
		return nil, fmt.Errorf("select frames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var frames []Frame
	for rows.Next() {
		var (
			f   Frame
			at  int64
			dir string
		)
		if err := rows.Scan(&f.ID, &f.Session, &at, &dir, &f.Kind, &f.Payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		f.Time = time.Unix(0, at)
		if dir == protocol.Inbound.String() {
			f.Direction = protocol.Inbound
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return frames, nil
}

// DB exposes the underlying database.
func (r *Recorder) DB() *sql.DB { return r.db }

// Path returns the database path.
func (r *Recorder) Path() string { return r.path }

// Close writes pending frames and closes the database. It is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	<-r.done
	if n := r.dropped.Load(); n > 0 {
		r.log.Warn("recorder closed with dropped frames", zap.Uint64("dropped", n))
	}
	return r.db.Close()
}

// write drains the backlog into the database.
func (r *Recorder) write() {
	defer close(r.done)
	stmt, err := r.db.Prepare(`INSERT INTO frames(session, at, direction, kind, payload) VALUES(?,?,?,?,?)`)
	if err != nil {
		r.log.Error("prepare insert", zap.Error(err))
	}

	var failed error
	for e := range r.entries {
		if e.flushed != nil {
			e.flushed <- failed
			failed = nil
			continue
		}
		if stmt == nil {
			failed = fmt.Errorf("prepare insert: %w", err)
			continue
		}
		f := e.frame
		if _, werr := stmt.Exec(f.Session, f.Time.UnixNano(), f.Direction.String(), uint8(f.Kind), f.Payload); werr != nil {
			failed = fmt.Errorf("insert frame: %w", werr)
			r.log.Warn("dropping frame", zap.Error(werr))
		}
	}
	if stmt != nil {
		_ = stmt.Close()
	}
}
