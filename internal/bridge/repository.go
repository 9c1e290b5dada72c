package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store durably mirrors registrations so the bridge's authoritative view
// survives a gateway restart. Implementations must treat every method as
// best-effort from the bridge's point of view: a Store error is logged, not
// propagated to the backend that registered.
type Store interface {
	Upsert(ctx context.Context, reg Registration) error
	Delete(ctx context.Context, serviceID string) error
	List(ctx context.Context) ([]Registration, error)
	Close() error
}

// row is the flat shape service_instances_mirror is scanned into.
type row struct {
	ServiceID       string    `db:"service_id"`
	ServiceName     string    `db:"service_name"`
	InstanceID      string    `db:"instance_id"`
	Host            string    `db:"host"`
	Port            int       `db:"port"`
	ServiceType     string    `db:"service_type"`
	Version         string    `db:"version"`
	Tags            string    `db:"tags"`
	Metadata        []byte    `db:"metadata"`
	HealthCheckPath string    `db:"health_check_path"`
	Weight          int       `db:"weight"`
	TTLSeconds      int       `db:"ttl_seconds"`
	RegisteredAt    time.Time `db:"registered_at"`
	LastRenewedAt   time.Time `db:"last_renewed_at"`
	HealthStatus    string    `db:"health_status"`
}

// PostgresStore is the jmoiron/sqlx-backed Store implementation.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgresStore connects to dsn, verifies connectivity, and applies the
// embedded migrations before returning.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	if err := ApplyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sqlx.DB, used by tests that
// drive a sqlmock connection through the same code path as production.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Upsert(ctx context.Context, reg Registration) error {
	metadata, err := json.Marshal(reg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_instances_mirror
			(service_id, service_name, instance_id, host, port, service_type, version,
			 tags, metadata, health_check_path, weight, ttl_seconds, registered_at,
			 last_renewed_at, health_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (service_id) DO UPDATE SET
			service_name = EXCLUDED.service_name,
			instance_id = EXCLUDED.instance_id,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			service_type = EXCLUDED.service_type,
			version = EXCLUDED.version,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			health_check_path = EXCLUDED.health_check_path,
			weight = EXCLUDED.weight,
			ttl_seconds = EXCLUDED.ttl_seconds,
			last_renewed_at = EXCLUDED.last_renewed_at,
			health_status = EXCLUDED.health_status
	`, reg.ServiceID, reg.ServiceName, reg.InstanceID, reg.Host, reg.Port, reg.ServiceType,
		reg.Version, strings.Join(reg.Tags, ","), metadata, reg.HealthCheckPath, reg.Weight,
		int(reg.TTL.Seconds()), reg.RegisteredAt, reg.LastRenewedAt, string(reg.HealthStatus))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, serviceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_instances_mirror WHERE service_id = $1`, serviceID)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Registration, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT service_id, service_name, instance_id, host, port, service_type, version,
		       tags, metadata, health_check_path, weight, ttl_seconds, registered_at,
		       last_renewed_at, health_status
		FROM service_instances_mirror
	`); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Registration, 0, len(rows))
	for _, r := range rows {
		var metadata map[string]string
		if len(r.Metadata) > 0 {
			_ = json.Unmarshal(r.Metadata, &metadata)
		}
		var tags []string
		if r.Tags != "" {
			tags = strings.Split(r.Tags, ",")
		}
		out = append(out, Registration{
			ServiceID:       r.ServiceID,
			ServiceName:     r.ServiceName,
			InstanceID:      r.InstanceID,
			Host:            r.Host,
			Port:            r.Port,
			ServiceType:     r.ServiceType,
			Version:         r.Version,
			Tags:            tags,
			Metadata:        metadata,
			HealthCheckPath: r.HealthCheckPath,
			Weight:          r.Weight,
			TTL:             time.Duration(r.TTLSeconds) * time.Second,
			RegisteredAt:    r.RegisteredAt,
			LastRenewedAt:   r.LastRenewedAt,
			HealthStatus:    HealthStatus(r.HealthStatus),
		})
	}
	return out, nil
}
