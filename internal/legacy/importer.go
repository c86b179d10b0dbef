// importer.go -- One-time copy of universities, courses and users from the
// legacy MySQL database.
package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/go-sql-driver/mysql"
	"github.com/gofrs/uuid/v5"
)

// Sink receives imported rows. Satisfied by *store.ImportTx.
type Sink interface {
	CreateUniversity(ctx context.Context, u *store.University) error
	CreateCourse(ctx context.Context, c *store.Course) error
	CreateUser(ctx context.Context, u *store.User) (bool, error)
}

// Legacy row shapes, column for column.

type LegacyUniversity struct {
	ID        int64
	ShortName string // name_kurz
	FullName  string // name_lang
	MidName   string // name_mittel
}

type LegacyCourse struct {
	ID         int64
	University int64
	Title      string
}

type LegacyUser struct {
	ID       int64
	Name     string
	Email    string
	Password string
}

// Snapshot is everything read from the legacy database.
type Snapshot struct {
	Universities []LegacyUniversity
	Courses      []LegacyCourse
	Users        []LegacyUser
}

// Report counts what Apply wrote.
type Report struct {
	Universities int
	Courses      int
	Users        int
	SkippedUsers int
}

const (
	maxPingRetries = 10
	maxBackoff     = 30 * time.Second
)

// OpenSource connects to the legacy database, retrying the ping with
// exponential backoff while the server comes up.
func OpenSource(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing legacy dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating legacy connector: %w", err)
	}
	db := sql.OpenDB(connector)

	backoff := time.Second
	var pingErr error
	for attempt := 1; attempt <= maxPingRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
		if attempt == maxPingRetries {
			break
		}

		slog.Warn("legacy database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	db.Close()
	return nil, fmt.Errorf("pinging legacy database after %d attempts: %w", maxPingRetries, pingErr)
}

// Fetch reads the tables the import copies.
func Fetch(ctx context.Context, db *sql.DB) (*Snapshot, error) {
	var snap Snapshot

	rows, err := db.QueryContext(ctx, `
		SELECT id, name_kurz, name_lang, name_mittel
		FROM egiraffe_studium_universities`)
	if err != nil {
		return nil, fmt.Errorf("fetching universities: %w", err)
	}
	for rows.Next() {
		var u LegacyUniversity
		if err := rows.Scan(&u.ID, &u.ShortName, &u.FullName, &u.MidName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning university: %w", err)
		}
		snap.Universities = append(snap.Universities, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("fetching universities: %w", err)
	}

	rows, err = db.QueryContext(ctx, `
		SELECT id, university, titel
		FROM egiraffe_studium_faecher`)
	if err != nil {
		return nil, fmt.Errorf("fetching courses: %w", err)
	}
	for rows.Next() {
		var c LegacyCourse
		if err := rows.Scan(&c.ID, &c.University, &c.Title); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning course: %w", err)
		}
		snap.Courses = append(snap.Courses, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("fetching courses: %w", err)
	}

	rows, err = db.QueryContext(ctx, `
		SELECT user_id, user_name, user_email, user_password
		FROM egiraffe_users`)
	if err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}
	for rows.Next() {
		var u LegacyUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Password); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		snap.Users = append(snap.Users, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}

	return &snap, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Apply writes the snapshot into sink. Universities go first so course
// foreign keys resolve. Users whose id or email already exists are skipped.
func Apply(ctx context.Context, sink Sink, snap *Snapshot) (Report, error) {
	var rep Report

	for _, lu := range snap.Universities {
		u, err := mapUniversity(lu)
		if err != nil {
			return rep, err
		}
		if err := sink.CreateUniversity(ctx, u); err != nil {
			return rep, err
		}
		rep.Universities++
	}
	slog.InfoContext(ctx, "universities imported", "count", rep.Universities)

	for _, lc := range snap.Courses {
		c, err := mapCourse(lc)
		if err != nil {
			return rep, err
		}
		if err := sink.CreateCourse(ctx, c); err != nil {
			return rep, err
		}
		rep.Courses++
	}
	slog.InfoContext(ctx, "courses imported", "count", rep.Courses)

	for _, lu := range snap.Users {
		u, err := mapUser(lu)
		if err != nil {
			return rep, err
		}
		created, err := sink.CreateUser(ctx, u)
		if err != nil {
			return rep, err
		}
		if !created {
			rep.SkippedUsers++
			slog.DebugContext(ctx, "legacy user skipped", "legacy_id", lu.ID)
			continue
		}
		rep.Users++
	}
	slog.InfoContext(ctx, "users imported", "count", rep.Users, "skipped", rep.SkippedUsers)

	return rep, nil
}

func encodeID(table Table, id int64) (uuid.UUID, error) {
	if id < 0 || id > math.MaxUint32 {
		return uuid.Nil, fmt.Errorf("legacy %s id %d out of range", table, id)
	}
	return Encode(table, uint32(id))
}

func mapUniversity(lu LegacyUniversity) (*store.University, error) {
	id, err := encodeID(University, lu.ID)
	if err != nil {
		return nil, err
	}
	u := &store.University{
		ID:        id,
		FullName:  lu.FullName,
		MidName:   lu.MidName,
		ShortName: lu.ShortName,
	}
	// The legacy short name collides with another university.
	if u.MidName == "Uni Innsbruck" {
		u.ShortName = "UI"
	}
	return u, nil
}

func mapCourse(lc LegacyCourse) (*store.Course, error) {
	id, err := encodeID(Course, lc.ID)
	if err != nil {
		return nil, err
	}
	heldAt, err := encodeID(University, lc.University)
	if err != nil {
		return nil, err
	}
	return &store.Course{ID: id, Name: lc.Title, HeldAt: heldAt}, nil
}

// mapUser copies the legacy password string as-is. It is not a PHC string,
// so every login against it fails like a wrong password. Nothing here
// converts it; the account stays locked until its hash is replaced out of band.
func mapUser(lu LegacyUser) (*store.User, error) {
	id, err := encodeID(User, lu.ID)
	if err != nil {
		return nil, err
	}
	first, last, nick := "", "", lu.Name
	return &store.User{
		ID:           id,
		Email:        lu.Email,
		FirstNames:   &first,
		LastName:     &last,
		Nick:         &nick,
		PasswordHash: lu.Password,
		Role:         1,
	}, nil
}
