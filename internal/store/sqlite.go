package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atlasfleet/atlas/internal/domain"
)

// sqliteStore owns the single write connection SQLite requires in WAL
// mode, plus a small pool of read connections, the same split the teacher
// uses in its own sqlite layer.
type sqliteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS machines (
	machine_id TEXT PRIMARY KEY,
	info JSON,
	first_seen TIMESTAMP,
	last_seen TIMESTAMP
);
CREATE TABLE IF NOT EXISTS metrics_history (
	machine_id TEXT,
	timestamp TIMESTAMP,
	payload JSON
);
CREATE INDEX IF NOT EXISTS idx_metrics_history_machine_ts
	ON metrics_history(machine_id, timestamp);
CREATE TABLE IF NOT EXISTS speedtest_results (
	machine_id TEXT,
	timestamp TIMESTAMP,
	download REAL,
	upload REAL,
	ping REAL,
	jitter REAL,
	loss REAL,
	server TEXT,
	isp TEXT
);
CREATE INDEX IF NOT EXISTS idx_speedtest_machine_ts
	ON speedtest_results(machine_id, timestamp);
CREATE TABLE IF NOT EXISTS commands (
	command_id TEXT PRIMARY KEY,
	machine_id TEXT,
	type TEXT,
	args JSON,
	created_at TIMESTAMP,
	delivered_at TIMESTAMP,
	result JSON,
	status TEXT
);
CREATE INDEX IF NOT EXISTS idx_commands_machine_status
	ON commands(machine_id, status);
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT,
	password_salt TEXT,
	created_at TIMESTAMP,
	last_login TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	username TEXT,
	created_at TIMESTAMP,
	expires_at TIMESTAMP
);
`

func openSQLite(path string) (*sqliteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1) // single writer, per spec §5 "shared-resource policy"
	writeDB.SetMaxIdleConns(1)

	if err := writeDB.Ping(); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open sqlite read pool: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	if _, err := writeDB.Exec(schema); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &sqliteStore{writeDB: writeDB, readDB: readDB}, nil
}

func (s *sqliteStore) Close() error {
	err1 := s.writeDB.Close()
	err2 := s.readDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *sqliteStore) writeReport(ctx context.Context, report domain.Report, wasNew bool) error {
	infoJSON, err := json.Marshal(report.MachineInfo)
	if err != nil {
		return fmt.Errorf("marshal machine_info: %w", err)
	}

	if wasNew {
		if _, err := s.writeDB.ExecContext(ctx,
			`INSERT INTO machines (machine_id, info, first_seen, last_seen) VALUES (?, ?, ?, ?)
			 ON CONFLICT(machine_id) DO UPDATE SET last_seen=excluded.last_seen`,
			report.MachineID, string(infoJSON), report.Timestamp, report.Timestamp); err != nil {
			return fmt.Errorf("insert machine: %w", err)
		}
	} else {
		if report.MachineInfo != nil {
			if _, err := s.writeDB.ExecContext(ctx,
				`UPDATE machines SET info=?, last_seen=? WHERE machine_id=?`,
				string(infoJSON), report.Timestamp, report.MachineID); err != nil {
				return fmt.Errorf("update machine info: %w", err)
			}
		} else {
			if _, err := s.writeDB.ExecContext(ctx,
				`UPDATE machines SET last_seen=? WHERE machine_id=?`,
				report.Timestamp, report.MachineID); err != nil {
				return fmt.Errorf("update machine last_seen: %w", err)
			}
		}
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report payload: %w", err)
	}
	if _, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO metrics_history (machine_id, timestamp, payload) VALUES (?, ?, ?)`,
		report.MachineID, report.Timestamp, string(payload)); err != nil {
		return fmt.Errorf("insert metrics_history: %w", err)
	}

	for _, result := range report.CommandResults {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			continue
		}
		if _, err := s.writeDB.ExecContext(ctx,
			`UPDATE commands SET status='done', result=? WHERE command_id=? AND status<>'done'`,
			string(resultJSON), result.CommandID); err != nil {
			return fmt.Errorf("update command result: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) writeSpeedTest(ctx context.Context, r domain.SpeedTestResult) error {
	var jitter, loss any
	if r.JitterMS != nil {
		jitter = *r.JitterMS
	}
	if r.PacketLossPct != nil {
		loss = *r.PacketLossPct
	}
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO speedtest_results (machine_id, timestamp, download, upload, ping, jitter, loss, server, isp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MachineID, r.Timestamp, r.DownloadMbps, r.UploadMbps, r.PingMS, jitter, loss, r.Server, r.ISP)
	return err
}

func (s *sqliteStore) pruneMetricsHistory(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM metrics_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune metrics_history: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) enqueueCommand(ctx context.Context, machineID string, cmdType domain.CommandType, args map[string]any) (string, error) {
	id, err := newCommandID()
	if err != nil {
		return "", err
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal command args: %w", err)
	}
	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO commands (command_id, machine_id, type, args, created_at, status) VALUES (?, ?, ?, ?, ?, 'pending')`,
		id, machineID, string(cmdType), string(argsJSON), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert command: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) claimPendingCommands(ctx context.Context, machineID string) ([]domain.Command, error) {
	rows, err := s.writeDB.QueryContext(ctx,
		`SELECT command_id, machine_id, type, args, created_at FROM commands WHERE machine_id=? AND status='pending'`,
		machineID)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer rows.Close()

	var commands []domain.Command
	var ids []string
	for rows.Next() {
		var cmd domain.Command
		var argsJSON string
		if err := rows.Scan(&cmd.CommandID, &cmd.MachineID, &cmd.Type, &argsJSON, &cmd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		if argsJSON != "" {
			json.Unmarshal([]byte(argsJSON), &cmd.Args)
		}
		cmd.Status = domain.CommandDelivered
		commands = append(commands, cmd)
		ids = append(ids, cmd.CommandID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range commands {
		commands[i].DeliveredAt = &now
		if _, err := s.writeDB.ExecContext(ctx,
			`UPDATE commands SET status='delivered', delivered_at=? WHERE command_id=?`,
			now, ids[i]); err != nil {
			return nil, fmt.Errorf("mark command delivered: %w", err)
		}
	}
	return commands, nil
}

func (s *sqliteStore) completeCommand(ctx context.Context, commandID string, result domain.CommandResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal command result: %w", err)
	}
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE commands SET status='done', result=? WHERE command_id=? AND status<>'done'`, string(resultJSON), commandID)
	if err != nil {
		return fmt.Errorf("complete command: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.writeDB.QueryRowContext(ctx, `SELECT 1 FROM commands WHERE command_id=?`, commandID).Scan(&exists)
		if err == sql.ErrNoRows {
			return domain.ErrCommandNotFound
		}
		if err != nil {
			return fmt.Errorf("complete command: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) recentSpeedtests(ctx context.Context, machineID string, limit int) ([]domain.SpeedTestResult, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT machine_id, timestamp, download, upload, ping, server, isp FROM speedtest_results
		 WHERE machine_id=? ORDER BY timestamp DESC LIMIT ?`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent speedtests: %w", err)
	}
	defer rows.Close()
	return scanSpeedtests(rows)
}

func (s *sqliteStore) speedtestsSince(ctx context.Context, since time.Time) ([]domain.SpeedTestResult, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT machine_id, timestamp, download, upload, ping, server, isp FROM speedtest_results
		 WHERE timestamp >= ? ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query speedtests since: %w", err)
	}
	defer rows.Close()
	return scanSpeedtests(rows)
}

func scanSpeedtests(rows *sql.Rows) ([]domain.SpeedTestResult, error) {
	var results []domain.SpeedTestResult
	for rows.Next() {
		var r domain.SpeedTestResult
		if err := rows.Scan(&r.MachineID, &r.Timestamp, &r.DownloadMbps, &r.UploadMbps, &r.PingMS, &r.Server, &r.ISP); err != nil {
			return nil, fmt.Errorf("scan speedtest row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UserRecord is a SQLite users row.
type UserRecord struct {
	Username     string
	PasswordHash string
	PasswordSalt string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// SessionRecord is a SQLite sessions row.
type SessionRecord struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *sqliteStore) createUser(ctx context.Context, username, passwordHash, passwordSalt string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, password_salt, created_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, passwordSalt, time.Now().UTC())
	return err
}

func (s *sqliteStore) user(ctx context.Context, username string) (UserRecord, error) {
	var rec UserRecord
	var lastLogin sql.NullTime
	err := s.readDB.QueryRowContext(ctx,
		`SELECT username, password_hash, password_salt, created_at, last_login FROM users WHERE username=?`,
		username).Scan(&rec.Username, &rec.PasswordHash, &rec.PasswordSalt, &rec.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return UserRecord{}, fmt.Errorf("%w: %s", domain.ErrAuthFailed, username)
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("query user: %w", err)
	}
	if lastLogin.Valid {
		rec.LastLogin = &lastLogin.Time
	}
	return rec, nil
}

func (s *sqliteStore) touchUserLogin(ctx context.Context, username string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE users SET last_login=? WHERE username=?`, time.Now().UTC(), username)
	return err
}

func (s *sqliteStore) createSession(ctx context.Context, token, username string, expiresAt time.Time) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO sessions (token, username, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, username, time.Now().UTC(), expiresAt)
	return err
}

func (s *sqliteStore) session(ctx context.Context, token string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.readDB.QueryRowContext(ctx,
		`SELECT token, username, created_at, expires_at FROM sessions WHERE token=?`, token).
		Scan(&rec.Token, &rec.Username, &rec.CreatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return SessionRecord{}, domain.ErrSessionExpired
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("query session: %w", err)
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		return SessionRecord{}, domain.ErrSessionExpired
	}
	return rec, nil
}

func (s *sqliteStore) deleteSession(ctx context.Context, token string) error {
	_, err := s.writeDB.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
	return err
}

func (s *sqliteStore) pruneExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}
