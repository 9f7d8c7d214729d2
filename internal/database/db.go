package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/iliyamo/parking-orchestrator/internal/config"
)

// Open connects to MySQL and verifies the connection.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	auth := cfg.User
	if cfg.Pass != "" {
		auth = fmt.Sprintf("%s:%s", cfg.User, cfg.Pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, cfg.Host, cfg.Port, cfg.Name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ParkingSchema holds the tables owned by the parking service.
var ParkingSchema = []string{
	`CREATE TABLE IF NOT EXISTS parking_levels (
		id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		level_number INT NOT NULL,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_level_number (level_number)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS parking_spots (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		level_id      BIGINT UNSIGNED NOT NULL,
		spot_type     ENUM('SMALL','MEDIUM','LARGE') NOT NULL,
		is_accessible BOOLEAN NOT NULL DEFAULT FALSE,
		is_occupied   BOOLEAN NOT NULL DEFAULT FALSE,
		KEY idx_spots_free (level_id, is_accessible, is_occupied, id),
		CONSTRAINT fk_spots_level FOREIGN KEY (level_id) REFERENCES parking_levels (id)
	) ENGINE=InnoDB`,
}

// TicketingSchema holds the tables owned by the ticketing service.  The
// generated open_vehicle column is only set while a ticket is open, so the
// unique key allows one open ticket per vehicle and any number of closed
// ones.  close_token names the exit run that closed the ticket.
var TicketingSchema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id             BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		spot_id        BIGINT UNSIGNED NOT NULL,
		vehicle_number VARCHAR(32) NOT NULL,
		entry_time     DATETIME NOT NULL,
		exit_time      DATETIME NULL,
		close_token    VARCHAR(64) NULL,
		open_vehicle   VARCHAR(32) AS (IF(exit_time IS NULL, vehicle_number, NULL)) STORED,
		UNIQUE KEY uq_tickets_open_vehicle (open_vehicle),
		KEY idx_tickets_vehicle (vehicle_number)
	) ENGINE=InnoDB`,
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
