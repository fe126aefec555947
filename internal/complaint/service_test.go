package complaint

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixit/internal/queue"
)

// --- fakes ---

type fakeRepo struct {
	byID        map[string]Complaint
	byRef       map[string]string // complaint_id -> row id
	nextRow     int
	insertCalls int
	forceDup    int // fail this many inserts with ErrDuplicateID
	updates     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]Complaint), byRef: make(map[string]string)}
}

func (f *fakeRepo) Insert(_ context.Context, c Complaint) (Complaint, error) {
	f.insertCalls++
	if f.forceDup > 0 {
		f.forceDup--
		return Complaint{}, ErrDuplicateID
	}
	if _, taken := f.byRef[c.ComplaintID]; taken {
		return Complaint{}, ErrDuplicateID
	}
	if c.ID == "" {
		f.nextRow++
		c.ID = "row-" + strconv.Itoa(f.nextRow)
	}
	f.byID[c.ID] = c
	f.byRef[c.ComplaintID] = c.ID
	return c, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*Complaint, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeRepo) GetByComplaintID(_ context.Context, ref string) (*Complaint, error) {
	id, ok := f.byRef[ref]
	if !ok {
		return nil, nil
	}
	c := f.byID[id]
	return &c, nil
}

func (f *fakeRepo) ListByEmail(_ context.Context, email string) ([]Complaint, error) {
	var out []Complaint
	for _, c := range f.byID {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAll(_ context.Context) ([]Complaint, error) {
	var out []Complaint
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) mutate(ref string, fn func(*Complaint)) error {
	id, ok := f.byRef[ref]
	if !ok {
		return ErrNotFound
	}
	c := f.byID[id]
	fn(&c)
	f.byID[id] = c
	f.updates++
	return nil
}

func (f *fakeRepo) UpdateForward(_ context.Context, ref, teacherEmail string) error {
	return f.mutate(ref, func(c *Complaint) {
		c.Status = StatusForwarded
		c.ForwardedTo = &teacherEmail
	})
}

func (f *fakeRepo) UpdateFacultyReply(_ context.Context, ref, reply string) error {
	return f.mutate(ref, func(c *Complaint) {
		c.Status = StatusFacultyReplied
		c.FacultyReply = &reply
	})
}

func (f *fakeRepo) UpdateAdminReply(_ context.Context, ref, reply string, at time.Time) (Complaint, error) {
	err := f.mutate(ref, func(c *Complaint) {
		c.Status = StatusReplied
		c.AdminReply = &reply
		c.RepliedAt = &at
	})
	if err != nil {
		return Complaint{}, err
	}
	return f.byID[f.byRef[ref]], nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, ref, status string) error {
	return f.mutate(ref, func(c *Complaint) { c.Status = status })
}

func (f *fakeRepo) ListImageRefs(_ context.Context) ([]string, error) {
	var refs []string
	for _, c := range f.byID {
		if c.ImageRef != nil {
			refs = append(refs, *c.ImageRef)
		}
	}
	return refs, nil
}

func (f *fakeRepo) DeleteByID(_ context.Context, id string) error {
	c, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(f.byRef, c.ComplaintID)
	delete(f.byID, id)
	return nil
}

func (f *fakeRepo) DeleteAll(_ context.Context) error {
	f.byID = make(map[string]Complaint)
	f.byRef = make(map[string]string)
	return nil
}

type fakeBlobs struct {
	deleted []string
	fail    error
}

func (f *fakeBlobs) Delete(ref string) error {
	if f.fail != nil {
		return f.fail
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func drain(q *queue.InMemory) []queue.Message {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := q.Consume(ctx)
	var out []queue.Message
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func hostelSubmission() Submission {
	return Submission{
		Fullname:    "A Student",
		Email:       "Student@X.com",
		RegNo:       "CS-42",
		Category:    "Hostel",
		Location:    "Block A",
		Description: "no water",
	}
}

// --- tests ---

func TestSubmit(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	c, err := svc.Submit(context.Background(), hostelSubmission())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, c.Status)
	assert.Len(t, c.ComplaintID, 5)
	for _, r := range c.ComplaintID {
		assert.True(t, r >= '0' && r <= '9')
	}
	assert.Equal(t, "student@x.com", c.Email)

	mine, err := svc.MyComplaints(context.Background(), "STUDENT@x.com ")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c.ComplaintID, mine[0].ComplaintID)
}

func TestSubmitIDsAreDistinct(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		c, err := svc.Submit(context.Background(), hostelSubmission())
		require.NoError(t, err)
		require.False(t, seen[c.ComplaintID], "duplicate complaint id %s", c.ComplaintID)
		seen[c.ComplaintID] = true
	}
}

func TestSubmitRetriesOnCollision(t *testing.T) {
	repo := newFakeRepo()
	repo.forceDup = 3
	svc := NewService(repo, nil, nil)

	c, err := svc.Submit(context.Background(), hostelSubmission())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ComplaintID)
	assert.Equal(t, 4, repo.insertCalls)
}

func TestSubmitGivesUpAfterCap(t *testing.T) {
	repo := newFakeRepo()
	repo.forceDup = 1000
	svc := NewService(repo, nil, nil)

	_, err := svc.Submit(context.Background(), hostelSubmission())
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Equal(t, maxIDAttempts, repo.insertCalls)
}

func TestSubmitRequiresFields(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)

	sub := hostelSubmission()
	sub.Description = "   "
	_, err := svc.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestForward(t *testing.T) {
	repo := newFakeRepo()
	q := queue.NewInMemory(8)
	svc := NewService(repo, nil, q)
	ctx := context.Background()

	c, err := svc.Submit(ctx, hostelSubmission())
	require.NoError(t, err)

	require.NoError(t, svc.Forward(ctx, c.ComplaintID, "prof@x.com", "please handle"))

	updated, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, StatusForwarded, updated.Status)
	require.NotNil(t, updated.ForwardedTo)
	assert.Equal(t, "prof@x.com", *updated.ForwardedTo)

	msgs := drain(q)
	require.Len(t, msgs, 1, "exactly one notice per forward")
	assert.Equal(t, queue.TypeNotice, msgs[0].Type)

	var notice Notice
	require.NoError(t, json.Unmarshal(msgs[0].Body, &notice))
	assert.Equal(t, "prof@x.com", notice.To)
	assert.Contains(t, notice.Subject, c.ComplaintID)
	assert.Contains(t, notice.Body, "no water")
	assert.Contains(t, notice.Body, "please handle")
}

func TestForwardNotFound(t *testing.T) {
	repo := newFakeRepo()
	q := queue.NewInMemory(8)
	svc := NewService(repo, nil, q)

	err := svc.Forward(context.Background(), "99999", "prof@x.com", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, drain(q), "no notice for an unknown complaint")
}

func TestFacultyReply(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Submit(ctx, hostelSubmission())
	require.NoError(t, err)

	require.NoError(t, svc.FacultyReply(ctx, c.ComplaintID, "fixed the valve"))

	updated, _ := svc.Get(ctx, c.ID)
	assert.Equal(t, StatusFacultyReplied, updated.Status)
	require.NotNil(t, updated.FacultyReply)
	assert.Equal(t, "fixed the valve", *updated.FacultyReply)

	assert.ErrorIs(t, svc.FacultyReply(ctx, "00000", "x"), ErrNotFound)
}

func TestAdminReply(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Submit(ctx, hostelSubmission())
	require.NoError(t, err)

	before := repo.updates
	_, err = svc.AdminReply(ctx, c.ComplaintID, "   ", time.Time{})
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, before, repo.updates, "empty reply must not touch the store")

	updated, err := svc.AdminReply(ctx, c.ComplaintID, "resolved", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, updated.Status)
	require.NotNil(t, updated.AdminReply)
	assert.Equal(t, "resolved", *updated.AdminReply)
	require.NotNil(t, updated.RepliedAt)
	assert.WithinDuration(t, time.Now(), *updated.RepliedAt, time.Minute)

	_, err = svc.AdminReply(ctx, "00000", "resolved", time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminReplyExplicitTimestamp(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Submit(ctx, hostelSubmission())
	require.NoError(t, err)

	at := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	updated, err := svc.AdminReply(ctx, c.ComplaintID, "done", at)
	require.NoError(t, err)
	require.NotNil(t, updated.RepliedAt)
	assert.True(t, updated.RepliedAt.Equal(at))
}

func TestSetStatusIsFreeText(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Submit(ctx, hostelSubmission())
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus(ctx, c.ComplaintID, "Escalated to Dean"))
	updated, _ := svc.Get(ctx, c.ID)
	assert.Equal(t, "Escalated to Dean", updated.Status)
}

func TestDeleteReleasesImage(t *testing.T) {
	repo := newFakeRepo()
	blobs := &fakeBlobs{}
	svc := NewService(repo, blobs, nil)
	ctx := context.Background()

	ref := "fixit/img-123"
	sub := hostelSubmission()
	sub.ImageRef = &ref
	c, err := svc.Submit(ctx, sub)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, c.ID))
	assert.Equal(t, []string{ref}, blobs.deleted)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteSurvivesBlobFailure(t *testing.T) {
	repo := newFakeRepo()
	blobs := &fakeBlobs{fail: errors.New("cdn unreachable")}
	svc := NewService(repo, blobs, nil)
	ctx := context.Background()

	ref := "fixit/img-9"
	sub := hostelSubmission()
	sub.ImageRef = &ref
	c, err := svc.Submit(ctx, sub)
	require.NoError(t, err)

	err = svc.Delete(ctx, c.ID)
	assert.ErrorIs(t, err, ErrImageCleanup, "blob failure is reported")

	got, gerr := svc.Get(ctx, c.ID)
	require.NoError(t, gerr)
	assert.Nil(t, got, "record deletion is not blocked by the blob failure")
}

func TestDeleteAll(t *testing.T) {
	repo := newFakeRepo()
	blobs := &fakeBlobs{}
	svc := NewService(repo, blobs, nil)
	ctx := context.Background()

	refA, refB := "fixit/a", "fixit/b"
	for _, ref := range []*string{&refA, &refB, nil} {
		sub := hostelSubmission()
		sub.ImageRef = ref
		_, err := svc.Submit(ctx, sub)
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteAll(ctx))
	assert.ElementsMatch(t, []string{refA, refB}, blobs.deleted)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
