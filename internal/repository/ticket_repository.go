package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

const ticketColumns = `id, spot_id, vehicle_number, entry_time, exit_time`

// TicketRepo owns the tickets table of the ticketing service.
type TicketRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewTicketRepo constructs a TicketRepo with the given DB handle.
func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db, now: time.Now}
}

func scanTicket(s rowScanner) (model.Ticket, error) {
	var (
		tk   model.Ticket
		exit sql.NullTime
	)
	if err := s.Scan(&tk.ID, &tk.SpotID, &tk.VehicleNumber, &tk.EntryTime, &exit); err != nil {
		return model.Ticket{}, err
	}
	if exit.Valid {
		t := exit.Time.UTC()
		tk.ExitTime = &t
	}
	tk.EntryTime = tk.EntryTime.UTC()
	return tk, nil
}

// Open creates a ticket for the vehicle on spotID.  When the vehicle
// already has an open ticket that ticket is returned instead and created
// is false, so repeated opens never produce a second open ticket.
func (r *TicketRepo) Open(ctx context.Context, spotID uint64, vehicleNumber string) (tk model.Ticket, created bool, err error) {
	tk, created, err = r.open(ctx, spotID, vehicleNumber)
	if isDuplicate(err) {
		// a concurrent open won the unique key on open_vehicle; return its ticket
		tk, created, err = r.open(ctx, spotID, vehicleNumber)
	}
	return tk, created, err
}

func (r *TicketRepo) open(ctx context.Context, spotID uint64, vehicleNumber string) (model.Ticket, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Ticket{}, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const qOpen = `SELECT ` + ticketColumns + ` FROM tickets WHERE vehicle_number = ? AND exit_time IS NULL FOR UPDATE`
	existing, err := scanTicket(tx.QueryRowContext(ctx, qOpen, vehicleNumber))
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return model.Ticket{}, false, err
		}
		committed = true
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return model.Ticket{}, false, err
	}

	entry := r.now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tickets (spot_id, vehicle_number, entry_time) VALUES (?, ?, ?)`,
		spotID, vehicleNumber, entry)
	if err != nil {
		return model.Ticket{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Ticket{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Ticket{}, false, err
	}
	committed = true
	return model.Ticket{ID: uint64(id), SpotID: spotID, VehicleNumber: vehicleNumber, EntryTime: entry}, true, nil
}

// GetByID returns a ticket or ErrTicketNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (model.Ticket, error) {
	tk, err := scanTicket(r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Ticket{}, ErrTicketNotFound
		}
		return model.Ticket{}, err
	}
	return tk, nil
}

// Close stamps the exit time on an open ticket on behalf of the exit run
// identified by token.  Repeating the call with the same token returns the
// closed ticket; any other caller gets ErrTicketClosed.  An unknown id
// yields ErrTicketNotFound.
func (r *TicketRepo) Close(ctx context.Context, id uint64, token string) (model.Ticket, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Ticket{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		tk     model.Ticket
		exit   sql.NullTime
		closer sql.NullString
	)
	row := tx.QueryRowContext(ctx, `SELECT `+ticketColumns+`, close_token FROM tickets WHERE id = ? FOR UPDATE`, id)
	if err := row.Scan(&tk.ID, &tk.SpotID, &tk.VehicleNumber, &tk.EntryTime, &exit, &closer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Ticket{}, ErrTicketNotFound
		}
		return model.Ticket{}, err
	}
	tk.EntryTime = tk.EntryTime.UTC()
	if exit.Valid {
		if token != "" && closer.Valid && closer.String == token {
			t := exit.Time.UTC()
			tk.ExitTime = &t
			return tk, nil
		}
		return model.Ticket{}, ErrTicketClosed
	}

	at := r.now().UTC().Truncate(time.Second)
	if _, err := tx.ExecContext(ctx, `UPDATE tickets SET exit_time = ?, close_token = ? WHERE id = ?`,
		at, sql.NullString{String: token, Valid: token != ""}, id); err != nil {
		return model.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Ticket{}, err
	}
	committed = true
	tk.ExitTime = &at
	return tk, nil
}
