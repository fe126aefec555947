// Package complaint implements the complaint lifecycle: submission with a
// unique 5-digit reference, forwarding to faculty with an email notice,
// replies, free-text status updates, and deletion with image cleanup.
package complaint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"fixit/internal/mailer"
	"fixit/internal/otp"
	"fixit/internal/queue"
)

var (
	// ErrNotFound means no complaint matches the given id.
	ErrNotFound = errors.New("complaint not found")
	// ErrEmptyReply means an admin reply was blank or whitespace-only.
	ErrEmptyReply = errors.New("reply must not be empty")
	// ErrMissingFields means a required submission field was blank.
	ErrMissingFields = errors.New("category and description required")
	// ErrIDExhausted means id generation kept colliding past the retry cap.
	// With 90000 possible ids this indicates a store problem, not bad luck.
	ErrIDExhausted = errors.New("could not allocate a unique complaint id")
	// ErrImageCleanup means the record was deleted but releasing its image
	// failed.
	ErrImageCleanup = errors.New("image cleanup failed")
)

// maxIDAttempts caps the generate-and-insert loop so a misbehaving store
// cannot spin it forever.
const maxIDAttempts = 20

// BlobStore releases stored complaint images.
type BlobStore interface {
	Delete(ref string) error
}

// Submission carries the fields supplied when reporting an issue.
type Submission struct {
	Fullname    string
	Email       string
	RegNo       string
	Category    string
	Location    string
	Description string
	ImageRef    *string
}

// Service enforces lifecycle transitions and their side effects. Forward
// notices go through the notification queue and are sent by the worker;
// the status change is durable before the notice is published.
type Service struct {
	repo  Repository
	blobs BlobStore
	queue queue.Queue
	now   func() time.Time
}

// NewService creates a lifecycle service. blobs and q may be nil when image
// storage or notifications are not configured.
func NewService(repo Repository, blobs BlobStore, q queue.Queue) *Service {
	return &Service{repo: repo, blobs: blobs, queue: q, now: time.Now}
}

// Submit creates a complaint in Pending status with a unique 5-digit
// reference. Uniqueness is enforced by the store; on collision a fresh id
// is drawn, up to maxIDAttempts.
func (s *Service) Submit(ctx context.Context, sub Submission) (Complaint, error) {
	if strings.TrimSpace(sub.Category) == "" || strings.TrimSpace(sub.Description) == "" {
		return Complaint{}, ErrMissingFields
	}
	c := Complaint{
		Email:       otp.NormalizeEmail(sub.Email),
		Fullname:    sub.Fullname,
		RegNo:       sub.RegNo,
		Category:    sub.Category,
		Location:    sub.Location,
		Description: sub.Description,
		ImageRef:    sub.ImageRef,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		c.ComplaintID = strconv.Itoa(10000 + rand.Intn(90000))
		saved, err := s.repo.Insert(ctx, c)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return Complaint{}, err
		}
	}
	return Complaint{}, ErrIDExhausted
}

// Forward marks a complaint forwarded to teacherEmail and queues the email
// notice. The status update is durable first; a publish failure is logged
// and never rolls it back.
func (s *Service) Forward(ctx context.Context, complaintID, teacherEmail, adminNote string) error {
	c, err := s.repo.GetByComplaintID(ctx, complaintID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if err := s.repo.UpdateForward(ctx, complaintID, teacherEmail); err != nil {
		return err
	}

	notice := Notice{
		To:      teacherEmail,
		Subject: fmt.Sprintf("URGENT: Faculty Complaint Forwarded [#%s]", complaintID),
		Body:    mailer.ForwardNotice(complaintID, c.Location, c.Description, adminNote),
	}
	if s.queue != nil {
		payload, _ := json.Marshal(notice)
		if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeNotice, Body: payload}); err != nil {
			log.Printf("forward notice publish failed for #%s: %v", complaintID, err)
		}
	}
	return nil
}

// FacultyReply records a faculty response. No notice is sent.
func (s *Service) FacultyReply(ctx context.Context, complaintID, reply string) error {
	return s.repo.UpdateFacultyReply(ctx, complaintID, reply)
}

// AdminReply records the administration's response and returns the updated
// complaint. A blank reply is rejected before any store call. at defaults
// to now when zero.
func (s *Service) AdminReply(ctx context.Context, complaintID, reply string, at time.Time) (Complaint, error) {
	if strings.TrimSpace(reply) == "" {
		return Complaint{}, ErrEmptyReply
	}
	if at.IsZero() {
		at = s.now().UTC()
	}
	return s.repo.UpdateAdminReply(ctx, complaintID, reply, at)
}

// SetStatus overwrites the status with arbitrary admin-supplied text.
func (s *Service) SetStatus(ctx context.Context, complaintID, status string) error {
	return s.repo.UpdateStatus(ctx, complaintID, status)
}

// Delete removes one complaint. An attached image is released best-effort:
// a blob failure is returned for reporting but the record is gone either way.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	if c.ImageRef != nil && s.blobs != nil {
		if err := s.blobs.Delete(*c.ImageRef); err != nil {
			log.Printf("image cleanup failed for complaint %s: %v", id, err)
			return fmt.Errorf("%w: %v", ErrImageCleanup, err)
		}
	}
	return nil
}

// DeleteAll clears every complaint. Blobs are released before the rows so a
// crash mid-way cannot leave a record pointing at a deleted image silently.
func (s *Service) DeleteAll(ctx context.Context) error {
	refs, err := s.repo.ListImageRefs(ctx)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		for _, ref := range refs {
			if err := s.blobs.Delete(ref); err != nil {
				log.Printf("image cleanup failed for %s: %v", ref, err)
			}
		}
	}
	return s.repo.DeleteAll(ctx)
}

// MyComplaints returns a submitter's complaints, newest first.
func (s *Service) MyComplaints(ctx context.Context, email string) ([]Complaint, error) {
	return s.repo.ListByEmail(ctx, otp.NormalizeEmail(email))
}

// All returns every complaint, newest first.
func (s *Service) All(ctx context.Context) ([]Complaint, error) {
	return s.repo.ListAll(ctx)
}

// Get returns one complaint by row id.
func (s *Service) Get(ctx context.Context, id string) (*Complaint, error) {
	return s.repo.GetByID(ctx, id)
}

// Notice is the queued payload for one forward notification.
type Notice struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
