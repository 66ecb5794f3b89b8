package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	connTimeOut = 10 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS blocklist_client_screenings (
	id          UUID PRIMARY KEY,
	batch_id    UUID NOT NULL,
	position    INTEGER NOT NULL,
	request_id  BIGINT NOT NULL,
	recipient   TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	fingerprint TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	status      TEXT NOT NULL,
	risk_score  DOUBLE PRECISION NOT NULL,
	reason      TEXT NOT NULL,
	source      TEXT NOT NULL,
	decided_at  TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS blocklist_client_screenings_batch_idx ON blocklist_client_screenings (batch_id);
CREATE INDEX IF NOT EXISTS blocklist_client_screenings_recipient_idx ON blocklist_client_screenings (recipient);`

type postgresStore struct {
	DB *sqlx.DB
}

func NewPostgresStore(dsn string) (*postgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	return &postgresStore{
		DB: db,
	}, nil
}

// Migrate creates the audit table if it does not exist.
func (d *postgresStore) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), connTimeOut)
	defer cancel()
	_, err := d.DB.ExecContext(ctx, schema)
	return errors.Wrap(err, "migrate")
}

func (d *postgresStore) Close() {
	d.DB.Close()
}

func (d *postgresStore) SaveScreeningEntries(entries []ScreeningEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `INSERT INTO blocklist_client_screenings
	(id, batch_id, position, request_id, recipient, amount, fingerprint, verdict, status, risk_score, reason, source, decided_at, received_at, inserted_at) VALUES (:id, :batch_id, :position, :request_id, :recipient, :amount, :fingerprint, :verdict, :status, :risk_score, :reason, :source, :decided_at, :received_at, :inserted_at)`
	ctx, cancel := context.WithTimeout(context.Background(), connTimeOut)
	defer cancel()
	_, err := d.DB.NamedExecContext(ctx, query, entries)
	return err
}
