package databases

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/rules"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SqliteDatabase keeps records and dispatches in a local SQLite file.
type SqliteDatabase struct {
	conn *sql.DB
}

func OpenSqliteDatabase(path string) (*SqliteDatabase, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", path)
	}
	// A single connection keeps ":memory:" databases shared between callers.
	db.SetMaxOpenConns(1)

	err = createTables(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SqliteDatabase{
		conn: db,
	}, nil
}

func createTables(conn *sql.DB) error {
	sqlStmt := `
	create table if not exists TELEMETRY (
	  ident text not null,
	  timestamp_ms integer not null,
	  signals text not null,
	  state text not null,
	  primary key (ident, timestamp_ms));
	create table if not exists DISPATCH (
	  id text not null primary key,
	  timestamp_ms integer not null,
	  ident text not null,
	  condition text,
	  command text not null,
	  provider_command text not null,
	  success integer not null,
	  error text);
	create index if not exists DISPATCH_BY_IDENT on DISPATCH (ident, timestamp_ms);
	`
	_, err := conn.Exec(sqlStmt)
	return errors.Wrap(err, "cannot create tables")
}

func (db *SqliteDatabase) Close() error {
	return db.conn.Close()
}

func (db *SqliteDatabase) GetLatest(ctx context.Context, ident string) (*rules.TelemetryRecord, error) {
	rec, _, err := db.GetLatestWithState(ctx, ident)
	return rec, err
}

// GetLatestWithState returns the latest record of ident together with the derived
// state stored in the same row.
func (db *SqliteDatabase) GetLatestWithState(ctx context.Context, ident string) (*rules.TelemetryRecord, *rules.VehicleState, error) {
	glog.V(1).Infof("Querying database for latest record of %s.", ident)
	q := "select signals, state from TELEMETRY where ident = ? order by timestamp_ms desc limit 1"
	var rawRecord, rawState string
	err := db.conn.QueryRowContext(ctx, q, ident).Scan(&rawRecord, &rawState)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNoRecords
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot query latest record")
	}
	rec := &rules.TelemetryRecord{}
	if err := json.Unmarshal([]byte(rawRecord), rec); err != nil {
		return nil, nil, errors.Wrap(err, "corrupt record in database")
	}
	state := &rules.VehicleState{}
	if err := json.Unmarshal([]byte(rawState), state); err != nil {
		return nil, nil, errors.Wrap(err, "corrupt state in database")
	}
	return rec, state, nil
}

func (db *SqliteDatabase) Insert(ctx context.Context, record rules.TelemetryRecord, state rules.VehicleState) error {
	rec, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "cannot encode record")
	}
	st, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "cannot encode state")
	}

	// Polling can return the same record twice; the latest copy wins.
	_, err = db.conn.ExecContext(ctx,
		"insert or replace into TELEMETRY(ident, timestamp_ms, signals, state) values(?, ?, ?, ?)",
		record.Ident, record.TimestampMs, string(rec), string(st))
	if err != nil {
		return errors.Wrap(err, "cannot insert record")
	}

	glog.V(1).Infof("Saved record of %s with timestamp %d into database.", record.Ident, record.TimestampMs)
	return nil
}

func (db *SqliteDatabase) InsertDispatch(ctx context.Context, event DispatchEvent) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "insert into DISPATCH(id, timestamp_ms, ident, condition, command, provider_command, success, error) values(?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "cannot prepare insert")
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx,
		event.ID,
		event.Timestamp.UnixNano()/int64(time.Millisecond),
		event.Ident,
		event.Condition,
		event.Command,
		event.ProviderCommand,
		event.Success,
		event.Error)
	if err != nil {
		return errors.Wrap(err, "cannot insert dispatch")
	}
	return errors.Wrap(tx.Commit(), "cannot commit dispatch")
}

// ListDispatches returns up to limit dispatches of ident, newest first.
func (db *SqliteDatabase) ListDispatches(ctx context.Context, ident string, limit int) ([]DispatchEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		"select id, timestamp_ms, ident, condition, command, provider_command, success, error from DISPATCH where ident = ? order by timestamp_ms desc limit ?",
		ident, limit)
	if err != nil {
		return nil, errors.Wrap(err, "cannot query dispatches")
	}
	defer rows.Close()

	var out []DispatchEvent
	for rows.Next() {
		var e DispatchEvent
		var ms int64
		var condition, errText sql.NullString
		if err := rows.Scan(&e.ID, &ms, &e.Ident, &condition, &e.Command, &e.ProviderCommand, &e.Success, &errText); err != nil {
			return nil, errors.Wrap(err, "cannot read dispatch")
		}
		e.Timestamp = time.Unix(0, ms*int64(time.Millisecond))
		e.Condition = condition.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "cannot read dispatches")
}
