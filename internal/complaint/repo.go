package complaint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Complaint is a submitted issue report. ComplaintID is the 5-digit
// human-facing reference; ID is the row key. Status is an open string —
// admins may set arbitrary values through the status endpoint.
type Complaint struct {
	ID           string     `json:"id"`
	ComplaintID  string     `json:"complaintId"`
	Email        string     `json:"email"`
	Fullname     string     `json:"fullname"`
	RegNo        string     `json:"regNo"`
	Category     string     `json:"category"`
	Location     string     `json:"location"`
	Description  string     `json:"description"`
	ImageRef     *string    `json:"imageRef,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	FacultyReply *string    `json:"facultyReply,omitempty"`
	AdminReply   *string    `json:"adminReply,omitempty"`
	RepliedAt    *time.Time `json:"repliedAt,omitempty"`
	ForwardedTo  *string    `json:"forwardedTo,omitempty"`
}

// Well-known statuses. The notifier only reacts to these; anything else is
// an admin-set free-text status.
const (
	StatusPending        = "Pending"
	StatusForwarded      = "Forwarded"
	StatusFacultyReplied = "Faculty Replied"
	StatusReplied        = "Replied"
)

// ErrDuplicateID is returned by Insert when the generated complaint_id is
// already taken. The unique constraint lives in the database, so two
// concurrent submissions cannot both win the same id.
var ErrDuplicateID = errors.New("duplicate complaint id")

// Repository persists complaints in Postgres.
type Repository interface {
	Insert(ctx context.Context, c Complaint) (Complaint, error)
	GetByID(ctx context.Context, id string) (*Complaint, error)
	GetByComplaintID(ctx context.Context, complaintID string) (*Complaint, error)
	ListByEmail(ctx context.Context, email string) ([]Complaint, error)
	ListAll(ctx context.Context) ([]Complaint, error)
	UpdateForward(ctx context.Context, complaintID, teacherEmail string) error
	UpdateFacultyReply(ctx context.Context, complaintID, reply string) error
	UpdateAdminReply(ctx context.Context, complaintID, reply string, at time.Time) (Complaint, error)
	UpdateStatus(ctx context.Context, complaintID, status string) error
	ListImageRefs(ctx context.Context) ([]string, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

const complaintColumns = `id, complaint_id, email, fullname, reg_no, category, location,
	description, image_ref, status, created_at, faculty_reply, admin_reply, replied_at, forwarded_to`

// PostgresRepository implements Repository over database/sql.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanComplaint(row interface{ Scan(...any) error }) (Complaint, error) {
	var c Complaint
	err := row.Scan(&c.ID, &c.ComplaintID, &c.Email, &c.Fullname, &c.RegNo, &c.Category,
		&c.Location, &c.Description, &c.ImageRef, &c.Status, &c.CreatedAt,
		&c.FacultyReply, &c.AdminReply, &c.RepliedAt, &c.ForwardedTo)
	return c, err
}

// Insert writes a new complaint. A unique violation on complaint_id maps to
// ErrDuplicateID so the caller can retry with a fresh id.
func (r *PostgresRepository) Insert(ctx context.Context, c Complaint) (Complaint, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO complaints (id, complaint_id, email, fullname, reg_no, category, location, description, image_ref, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.ID, c.ComplaintID, c.Email, c.Fullname, c.RegNo, c.Category, c.Location, c.Description, c.ImageRef, c.Status, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Complaint{}, ErrDuplicateID
		}
		return Complaint{}, err
	}
	return c, nil
}

// GetByID returns a complaint by row id, or nil when absent.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Complaint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id)
	c, err := scanComplaint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// GetByComplaintID returns a complaint by its 5-digit reference, or nil.
func (r *PostgresRepository) GetByComplaintID(ctx context.Context, complaintID string) (*Complaint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE complaint_id = $1`, complaintID)
	c, err := scanComplaint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListByEmail returns a submitter's complaints, newest first.
func (r *PostgresRepository) ListByEmail(ctx context.Context, email string) ([]Complaint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+complaintColumns+` FROM complaints WHERE email = $1 ORDER BY created_at DESC
	`, email)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListAll returns every complaint, newest first.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]Complaint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+complaintColumns+` FROM complaints ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Complaint, error) {
	defer rows.Close()
	var out []Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateForward marks a complaint forwarded to a faculty address.
func (r *PostgresRepository) UpdateForward(ctx context.Context, complaintID, teacherEmail string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE complaints SET status = $2, forwarded_to = $3 WHERE complaint_id = $1
	`, complaintID, StatusForwarded, teacherEmail)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateFacultyReply stores the faculty response.
func (r *PostgresRepository) UpdateFacultyReply(ctx context.Context, complaintID, reply string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE complaints SET status = $2, faculty_reply = $3 WHERE complaint_id = $1
	`, complaintID, StatusFacultyReplied, reply)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateAdminReply stores the admin response and returns the updated row.
func (r *PostgresRepository) UpdateAdminReply(ctx context.Context, complaintID, reply string, at time.Time) (Complaint, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE complaints SET status = $2, admin_reply = $3, replied_at = $4
		WHERE complaint_id = $1
		RETURNING `+complaintColumns+`
	`, complaintID, StatusReplied, reply, at)
	c, err := scanComplaint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Complaint{}, ErrNotFound
		}
		return Complaint{}, err
	}
	return c, nil
}

// UpdateStatus overwrites the status with arbitrary text. No whitelist: the
// admin escape hatch depends on free-form values.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, complaintID, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE complaints SET status = $2 WHERE complaint_id = $1
	`, complaintID, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListImageRefs returns every attached image reference.
func (r *PostgresRepository) ListImageRefs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT image_ref FROM complaints WHERE image_ref IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteByID removes one complaint row.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM complaints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteAll removes every complaint row.
func (r *PostgresRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM complaints`)
	return err
}

func requireRow(res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
