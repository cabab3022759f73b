package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahiry/fokontany/internal/domain"
)

// memDB is an in-memory stand-in for the database, shared by the fake stores
// below. The mutex plays the role of the row lock: RunInTx holds it for the
// whole transaction, so concurrent decisions serialize exactly like they do
// against Postgres.
type memDB struct {
	mu            sync.Mutex
	users         map[int64]domain.User
	submissions   map[int64]domain.Submission
	residences    map[int64]domain.Residence
	notifications []domain.Notification
	nextID        int64

	failResidenceCreate bool
	failNotify          bool
}

func newMemDB(users ...domain.User) *memDB {
	db := &memDB{
		users:       make(map[int64]domain.User),
		submissions: make(map[int64]domain.Submission),
		residences:  make(map[int64]domain.Residence),
		nextID:      100,
	}
	for _, u := range users {
		db.users[u.ID] = u
	}
	return db
}

// seq returns the next id. Callers must hold mu.
func (d *memDB) seq() int64 {
	d.nextID++
	return d.nextID
}

type memUsers struct{ db *memDB }

func (s memUsers) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s memUsers) FindActiveSecretariesByZone(_ context.Context, zoneID int64) ([]domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.User
	for _, u := range s.db.users {
		if u.Role == domain.RoleSecretary && u.Active && u.HomeZoneID != nil && *u.HomeZoneID == zoneID {
			out = append(out, u)
		}
	}
	return out, nil
}

type memSubmissions struct{ db *memDB }

func (s memSubmissions) Create(_ context.Context, sub domain.Submission) (*domain.Submission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub.ID = s.db.seq()
	sub.Status = domain.SubmissionPending
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	s.db.submissions[sub.ID] = sub
	return &sub, nil
}

func (s memSubmissions) FindByID(_ context.Context, id int64) (*domain.Submission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub, ok := s.db.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (s memSubmissions) ListPending(_ context.Context, zoneID *int64) ([]domain.Submission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Submission
	for _, sub := range s.db.submissions {
		if sub.Status != domain.SubmissionPending {
			continue
		}
		if zoneID != nil {
			submitter := s.db.users[sub.SubmittedBy]
			if submitter.HomeZoneID == nil || *submitter.HomeZoneID != *zoneID {
				continue
			}
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s memSubmissions) ListBySubmitter(_ context.Context, userID int64) ([]domain.Submission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Submission
	for _, sub := range s.db.submissions {
		if sub.SubmittedBy == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memResidences struct{ db *memDB }

func (s memResidences) Create(_ context.Context, res domain.Residence) (*domain.Residence, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failResidenceCreate {
		return nil, errors.New("connection reset")
	}
	res.ID = s.db.seq()
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	s.db.residences[res.ID] = res
	return &res, nil
}

type memNotifier struct{ db *memDB }

func (s memNotifier) Notify(_ context.Context, n domain.Notification) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failNotify {
		return errors.New("notification store down")
	}
	n.ID = s.db.seq()
	n.CreatedAt = time.Now()
	s.db.notifications = append(s.db.notifications, n)
	return nil
}

// memTx stages all mutations and publishes them only when fn succeeds,
// mirroring the transaction's commit-or-rollback contract.
type memTx struct{ db *memDB }

type txState struct {
	db          *memDB
	submissions map[int64]domain.Submission
	residences  map[int64]domain.Residence
	nextID      int64
}

func (t memTx) RunInTx(_ context.Context, fn func(s TxStores) error) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	st := &txState{
		db:          t.db,
		submissions: maps.Clone(t.db.submissions),
		residences:  maps.Clone(t.db.residences),
		nextID:      t.db.nextID,
	}
	if err := fn(TxStores{Submissions: txSubmissions{st}, Residences: txResidences{st}}); err != nil {
		return err
	}

	t.db.submissions = st.submissions
	t.db.residences = st.residences
	t.db.nextID = st.nextID
	return nil
}

type txSubmissions struct{ st *txState }

func (s txSubmissions) FindByIDForUpdate(_ context.Context, id int64) (*domain.Submission, error) {
	sub, ok := s.st.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (s txSubmissions) MarkReviewed(_ context.Context, id int64, status domain.SubmissionStatus, reviewerID int64, notes string) (*domain.Submission, error) {
	sub, ok := s.st.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	sub.Status = status
	sub.ReviewedBy = &reviewerID
	sub.ReviewNotes = &notes
	sub.UpdatedAt = time.Now()
	s.st.submissions[id] = sub
	return &sub, nil
}

type txResidences struct{ st *txState }

func (s txResidences) Create(_ context.Context, res domain.Residence) (*domain.Residence, error) {
	if s.st.db.failResidenceCreate {
		return nil, errors.New("connection reset")
	}
	s.st.nextID++
	res.ID = s.st.nextID
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	s.st.residences[res.ID] = res
	return &res, nil
}

func zone(id int64) *int64 { return &id }

func newTestWorkflow(db *memDB) *WorkflowService {
	return NewWorkflowService(memUsers{db}, memSubmissions{db}, memResidences{db}, memTx{db}, memNotifier{db})
}

var (
	agentZ1      = domain.User{ID: 1, DisplayName: "Hery", Role: domain.RoleAgent, HomeZoneID: zone(1), Active: true}
	secretaryZ1  = domain.User{ID: 2, DisplayName: "Voara", Role: domain.RoleSecretary, HomeZoneID: zone(1), Active: true}
	secretaryZ1b = domain.User{ID: 3, DisplayName: "Lala", Role: domain.RoleSecretary, HomeZoneID: zone(1), Active: true}
	inactiveSecZ1 = domain.User{ID: 4, DisplayName: "Naly", Role: domain.RoleSecretary, HomeZoneID: zone(1), Active: false}
	secretaryZ2  = domain.User{ID: 5, DisplayName: "Mirado", Role: domain.RoleSecretary, HomeZoneID: zone(2), Active: true}
	adminUser    = domain.User{ID: 6, DisplayName: "Tiana", Role: domain.RoleAdmin, Active: true}
	agentZ2      = domain.User{ID: 7, DisplayName: "Fara", Role: domain.RoleAgent, HomeZoneID: zone(2), Active: true}
)

func allUsers() []domain.User {
	return []domain.User{agentZ1, secretaryZ1, secretaryZ1b, inactiveSecZ1, secretaryZ2, adminUser, agentZ2}
}

func validPayload() domain.ResidencePayload {
	return domain.ResidencePayload{Lot: "L99", ZoneID: 1, Address: "Lot II B 45", Lat: -18.93, Lng: 47.52}
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	svc := newTestWorkflow(newMemDB(allUsers()...))

	p := validPayload()
	p.Lot = "  "
	_, err := svc.Submit(context.Background(), agentZ1, p)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "lot", vErr.Field)

	p = validPayload()
	p.Lat = math.NaN()
	_, err = svc.Submit(context.Background(), agentZ1, p)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "coordinates", vErr.Field)
}

func TestSubmitAgentHeldForReview(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)

	result, err := svc.Submit(context.Background(), agentZ1, validPayload())
	require.NoError(t, err)
	require.NotNil(t, result.Submission)
	assert.Nil(t, result.Residence)
	assert.True(t, result.NeedsReview)
	assert.Equal(t, domain.SubmissionPending, result.Submission.Status)
	assert.Equal(t, agentZ1.ID, result.Submission.SubmittedBy)

	// Fan-out reaches exactly the active secretaries of zone 1.
	recipients := make(map[int64]domain.Notification)
	for _, n := range db.notifications {
		recipients[n.RecipientID] = n
	}
	assert.Len(t, recipients, 2)
	assert.Contains(t, recipients, secretaryZ1.ID)
	assert.Contains(t, recipients, secretaryZ1b.ID)
	assert.NotContains(t, recipients, inactiveSecZ1.ID)
	assert.NotContains(t, recipients, secretaryZ2.ID)

	n := recipients[secretaryZ1.ID]
	assert.Equal(t, domain.NotificationResidenceApproval, n.Type)
	assert.Equal(t, domain.SubmissionPending, n.Status)
	assert.Equal(t, result.Submission.ID, n.RelatedEntityID)
}

func TestSubmitAgentWithoutZoneSkipsFanout(t *testing.T) {
	noZone := domain.User{ID: 8, Role: domain.RoleAgent, Active: true}
	db := newMemDB(append(allUsers(), noZone)...)
	svc := newTestWorkflow(db)

	result, err := svc.Submit(context.Background(), noZone, validPayload())
	require.NoError(t, err)
	assert.True(t, result.NeedsReview)
	assert.Empty(t, db.notifications)
}

func TestSubmitTrustedRolesWriteDirectly(t *testing.T) {
	for _, submitter := range []domain.User{secretaryZ1, adminUser} {
		t.Run(string(submitter.Role), func(t *testing.T) {
			db := newMemDB(allUsers()...)
			svc := newTestWorkflow(db)

			result, err := svc.Submit(context.Background(), submitter, validPayload())
			require.NoError(t, err)
			require.NotNil(t, result.Residence)
			assert.Nil(t, result.Submission)
			assert.False(t, result.NeedsReview)
			assert.Equal(t, "L99", result.Residence.Lot)
			assert.Equal(t, submitter.ID, result.Residence.CreatedBy)
			assert.Empty(t, db.submissions)
			assert.Empty(t, db.notifications)
		})
	}
}

func TestSubmitSurvivesNotificationFailure(t *testing.T) {
	db := newMemDB(allUsers()...)
	db.failNotify = true
	svc := newTestWorkflow(db)

	result, err := svc.Submit(context.Background(), agentZ1, validPayload())
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionPending, result.Submission.Status)
}

func TestListPendingScoping(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()

	first, err := svc.Submit(ctx, agentZ1, validPayload())
	require.NoError(t, err)
	p2 := validPayload()
	p2.Lot = "L100"
	second, err := svc.Submit(ctx, agentZ1, p2)
	require.NoError(t, err)
	p3 := validPayload()
	p3.Lot = "Z2-7"
	p3.ZoneID = 2
	other, err := svc.Submit(ctx, agentZ2, p3)
	require.NoError(t, err)

	// Secretary sees only their zone, newest first.
	subs, err := svc.ListPending(ctx, secretaryZ1)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, second.Submission.ID, subs[0].ID)
	assert.Equal(t, first.Submission.ID, subs[1].ID)

	subs, err = svc.ListPending(ctx, secretaryZ2)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, other.Submission.ID, subs[0].ID)

	// Admin sees everything.
	subs, err = svc.ListPending(ctx, adminUser)
	require.NoError(t, err)
	assert.Len(t, subs, 3)

	// A secretary without a zone sees nothing.
	zoneless := domain.User{ID: 9, Role: domain.RoleSecretary, Active: true}
	subs, err = svc.ListPending(ctx, zoneless)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Agents may not list pending work at all.
	_, err = svc.ListPending(ctx, agentZ1)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func submitAsAgent(t *testing.T, svc *WorkflowService, agent domain.User) *domain.Submission {
	t.Helper()
	result, err := svc.Submit(context.Background(), agent, validPayload())
	require.NoError(t, err)
	return result.Submission
}

func TestDecideApprove(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)
	fanout := len(db.notifications)

	result, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, "ok")
	require.NoError(t, err)

	require.NotNil(t, result.Residence)
	assert.Equal(t, domain.SubmissionApproved, result.Submission.Status)
	require.NotNil(t, result.Submission.ReviewedBy)
	assert.Equal(t, secretaryZ1.ID, *result.Submission.ReviewedBy)

	// The registry record mirrors the payload field for field, attributed to
	// the original submitter.
	assert.Equal(t, sub.Payload, result.Residence.Payload())
	assert.Equal(t, agentZ1.ID, result.Residence.CreatedBy)

	// The submitter hears about it.
	require.Len(t, db.notifications, fanout+1)
	n := db.notifications[len(db.notifications)-1]
	assert.Equal(t, agentZ1.ID, n.RecipientID)
	assert.Equal(t, domain.SubmissionApproved, n.Status)
	assert.Equal(t, result.Residence.ID, n.RelatedEntityID)
	require.NotNil(t, n.SenderID)
	assert.Equal(t, secretaryZ1.ID, *n.SenderID)
}

func TestDecideRejectRequiresNotes(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	_, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionReject, "")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "notes", vErr.Field)

	result, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionReject, "coordinates off by a block")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionRejected, result.Submission.Status)
	assert.Nil(t, result.Residence)
	assert.Empty(t, db.residences)

	n := db.notifications[len(db.notifications)-1]
	assert.Equal(t, agentZ1.ID, n.RecipientID)
	assert.Equal(t, domain.SubmissionRejected, n.Status)
	assert.Contains(t, n.Message, "coordinates off by a block")
}

func TestDecideInvalidDecision(t *testing.T) {
	svc := newTestWorkflow(newMemDB(allUsers()...))
	_, err := svc.Decide(context.Background(), adminUser, 1, Decision("defer"), "")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "decision", vErr.Field)
}

func TestDecideAuthorization(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	// Agents may not decide at all.
	_, err := svc.Decide(ctx, agentZ2, sub.ID, DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// A secretary from another zone is out of scope.
	_, err = svc.Decide(ctx, secretaryZ2, sub.ID, DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// The submission is untouched by the refused attempts.
	got, err := svc.submissions.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionPending, got.Status)

	// An admin is never zone-scoped.
	_, err = svc.Decide(ctx, adminUser, sub.ID, DecisionApprove, "")
	assert.NoError(t, err)
}

func TestDecideUnknownSubmission(t *testing.T) {
	svc := newTestWorkflow(newMemDB(allUsers()...))
	_, err := svc.Decide(context.Background(), adminUser, 4242, DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecideTwiceConflicts(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	_, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, "ok")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, secretaryZ1b, sub.ID, DecisionReject, "no")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "already approved")

	assert.Len(t, db.residences, 1)
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, fmt.Sprintf("attempt %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)

	// Exactly one registry record, no matter how many raced.
	assert.Len(t, db.residences, 1)
}

func TestDecideRollsBackOnRegistryFailure(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	db.failResidenceCreate = true
	_, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, "ok")
	require.Error(t, err)

	// No partial state: the submission is still pending and the registry is
	// empty, so a retry succeeds cleanly.
	got, err := svc.submissions.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionPending, got.Status)
	assert.Nil(t, got.ReviewedBy)
	assert.Empty(t, db.residences)

	db.failResidenceCreate = false
	result, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionApproved, result.Submission.Status)
	assert.Len(t, db.residences, 1)
}

func TestDecideSurvivesNotificationFailure(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()
	sub := submitAsAgent(t, svc, agentZ1)

	db.failNotify = true
	result, err := svc.Decide(ctx, secretaryZ1, sub.ID, DecisionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionApproved, result.Submission.Status)
	assert.Len(t, db.residences, 1)
}

func TestListMine(t *testing.T) {
	db := newMemDB(allUsers()...)
	svc := newTestWorkflow(db)
	ctx := context.Background()

	mine := submitAsAgent(t, svc, agentZ1)
	submitAsAgent(t, svc, agentZ2)

	subs, err := svc.ListMine(ctx, agentZ1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, mine.ID, subs[0].ID)
}
