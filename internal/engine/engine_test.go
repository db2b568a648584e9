package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/metrics"
	"tradeline/internal/migrate"
	"tradeline/internal/notify"
	"tradeline/internal/repo"
)

const (
	client = "client-1"
	pro    = "pro-1"
	pro2   = "pro-2"
)

type testEnv struct {
	Engine engine.Engine
	Hub    *notify.Hub
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	hub := notify.NewHub()
	eng.Notifier = hub
	eng.Metrics = metrics.New()
	return testEnv{Engine: eng, Hub: hub, Ctx: context.Background()}
}

func (env testEnv) createProject(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectDraft{
		ClientID:       client,
		Title:          "Replace kitchen faucet",
		Budget:         domain.Money(60000),
		Category:       "plumbing",
		RequiredSkills: []string{"plumbing", "plumbing", "fixtures"},
		Requirements:   []string{"shut off water", "install faucet"},
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) submit(t *testing.T, projectID, professionalID string, bid domain.Money) domain.Application {
	t.Helper()
	a, err := env.Engine.SubmitApplication(env.Ctx, engine.ApplicationDraft{
		ProjectID:      projectID,
		ProfessionalID: professionalID,
		Bid:            bid,
		Proposal:       "can do it this week",
	})
	require.NoError(t, err)
	return a
}

// assignedProject returns a project accepted for pro.
func (env testEnv) assignedProject(t *testing.T) domain.Project {
	t.Helper()
	p := env.createProject(t)
	a := env.submit(t, p.ID, pro, 0)
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	return env.project(t, p.ID)
}

func (env testEnv) inProgressProject(t *testing.T) domain.Project {
	t.Helper()
	p := env.assignedProject(t)
	env.appendEvent(t, p.ID, "check_in", "arrived on site")
	p = env.project(t, p.ID)
	require.Equal(t, domain.StatusInProgress, p.Status)
	return p
}

func (env testEnv) appendEvent(t *testing.T, projectID, updateType, message string) domain.Event {
	t.Helper()
	ev, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{
		ProjectID:  projectID,
		AuthorID:   pro,
		UpdateType: updateType,
		Message:    message,
	})
	require.NoError(t, err)
	return ev
}

func (env testEnv) project(t *testing.T, id string) domain.Project {
	t.Helper()
	p, err := env.Engine.GetProject(env.Ctx, id)
	require.NoError(t, err)
	assertAssigneeInvariant(t, p)
	return p
}

func assertAssigneeInvariant(t *testing.T, p domain.Project) {
	t.Helper()
	if p.Status.HasAssignee() != (p.AssignedTo != nil) {
		t.Fatalf("project %s: status %s with assigned_to=%v", p.ID, p.Status, p.AssignedTo)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	assert.Equal(t, domain.StatusOpen, p.Status)
	assert.Nil(t, p.AssignedTo)
	assert.Equal(t, []string{"plumbing", "fixtures"}, p.RequiredSkills)

	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectDraft{ClientID: client, Title: "x", Budget: 0})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectDraft{ClientID: client, Budget: 100})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.GetProject(env.Ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestScenarioAcceptBid(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	winner := env.submit(t, p.ID, pro, domain.Money(50000))
	other := env.submit(t, p.ID, pro2, 0)
	assert.Equal(t, domain.Money(60000), other.Bid, "bid defaults to budget")

	accepted, err := env.Engine.AcceptApplication(env.Ctx, winner.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationAccepted, accepted.Status)
	assert.Equal(t, domain.Money(50000), accepted.Bid)

	p = env.project(t, p.ID)
	assert.Equal(t, domain.StatusAssigned, p.Status)
	require.NotNil(t, p.AssignedTo)
	assert.Equal(t, pro, *p.AssignedTo)

	still, err := env.Engine.GetApplication(env.Ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationPending, still.Status, "competing bids are not auto-rejected")

	// re-accepting the winner is a no-op
	again, err := env.Engine.AcceptApplication(env.Ctx, winner.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationAccepted, again.Status)

	_, err = env.Engine.AcceptApplication(env.Ctx, other.ID, client)
	assert.ErrorIs(t, err, engine.ErrProjectNotOpen)
}

func TestScenarioActivityThenCompletionKeyword(t *testing.T) {
	env := newTestEnv(t)
	p := env.assignedProject(t)

	env.appendEvent(t, p.ID, "check_in", "")
	assert.Equal(t, domain.StatusInProgress, env.project(t, p.ID).Status)

	env.appendEvent(t, p.ID, "progress_note", "Job completed, ready for review")
	assert.Equal(t, domain.StatusSubmitted, env.project(t, p.ID).Status)
}

func TestScenarioMarkCompleteAndReview(t *testing.T) {
	env := newTestEnv(t)
	p := env.inProgressProject(t)
	env.appendEvent(t, p.ID, "progress_note", "all work completed")
	require.Equal(t, domain.StatusSubmitted, env.project(t, p.ID).Status)

	done, err := env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	rv, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: client, Rating: 5, Comment: "great"})
	require.NoError(t, err)
	assert.Equal(t, pro, rv.ProfessionalID)
	assert.Equal(t, domain.StatusArchived, env.project(t, p.ID).Status)

	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: client, Rating: 4})
	assert.ErrorIs(t, err, engine.ErrReviewAlreadyExists)
	got, err := env.Engine.GetReview(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, rv.ID, got.ID)
}

func TestScenarioLateApplication(t *testing.T) {
	env := newTestEnv(t)
	p := env.assignedProject(t)
	_, err := env.Engine.SubmitApplication(env.Ctx, engine.ApplicationDraft{ProjectID: p.ID, ProfessionalID: pro2})
	assert.ErrorIs(t, err, engine.ErrProjectNotOpen)
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	for i := 0; i < 5; i++ {
		env := newTestEnv(t)
		p := env.createProject(t)
		a1 := env.submit(t, p.ID, pro, 0)
		a2 := env.submit(t, p.ID, pro2, 0)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for idx, id := range []string{a1.ID, a2.ID} {
			wg.Add(1)
			go func(idx int, id string) {
				defer wg.Done()
				_, errs[idx] = env.Engine.AcceptApplication(env.Ctx, id, client)
			}(idx, id)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, engine.ErrProjectNotOpen)
		}
		assert.Equal(t, 1, wins)
		accepted, err := env.Engine.ListApplications(env.Ctx, repo.ApplicationFilters{ProjectID: p.ID, Status: string(domain.ApplicationAccepted)})
		require.NoError(t, err)
		assert.Len(t, accepted, 1)
		env.project(t, p.ID)
	}
}

func TestAppendEventRequiresActionableProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	_, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "check_in"})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable)
	assert.Contains(t, err.Error(), "is open")

	n, err := env.Engine.Repo.CountEventsTx(env.Ctx, nil, p.ID, "")
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected append leaves no event behind")

	p = env.inProgressProject(t)
	env.appendEvent(t, p.ID, "progress_note", "completed")
	_, err = env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err)
	before, err := env.Engine.Repo.CountEventsTx(env.Ctx, nil, p.ID, "")
	require.NoError(t, err)
	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "check_in"})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable)
	after, err := env.Engine.Repo.CountEventsTx(env.Ctx, nil, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAppendEventReportsLifecycleBeforePayload(t *testing.T) {
	env := newTestEnv(t)
	open := env.createProject(t)
	_, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: open.ID, AuthorID: pro, UpdateType: "teleport"})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable)
	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: open.ID, AuthorID: pro, UpdateType: "expense"})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable, "missing metadata on an open project")

	p := env.assignedProject(t)
	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro2, UpdateType: "teleport"})
	assert.ErrorIs(t, err, engine.ErrNotAssignedProfessional)
	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "teleport"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestAppendEventValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.assignedProject(t)

	_, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro2, UpdateType: "check_in"})
	assert.ErrorIs(t, err, engine.ErrNotAssignedProfessional)

	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "teleport"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "expense"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	ev, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{
		ProjectID: p.ID, AuthorID: pro, UpdateType: "expense",
		Metadata: map[string]any{"amount": "42.50"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryExpenses, ev.Category)
	assert.Equal(t, domain.StatusAssigned, env.project(t, p.ID).Status, "non-activity events do not start work")
}

func TestCompletionKeywordMatching(t *testing.T) {
	cases := []struct {
		message string
		want    domain.ProjectStatus
	}{
		{"Job COMPLETED", domain.StatusSubmitted},
		{"completed", domain.StatusSubmitted},
		{"uncompleted drywall", domain.StatusSubmitted},
		{"almost complete", domain.StatusInProgress},
		{"", domain.StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.inProgressProject(t)
			env.appendEvent(t, p.ID, "progress_note", tc.message)
			assert.Equal(t, tc.want, env.project(t, p.ID).Status)
		})
	}
}

func TestRevisionCycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.inProgressProject(t)

	env.appendEvent(t, p.ID, "revisit_required", "inspector flagged the seal")
	assert.Equal(t, domain.StatusRevision, env.project(t, p.ID).Status)

	env.appendEvent(t, p.ID, "check_in", "back on site")
	assert.Equal(t, domain.StatusInProgress, env.project(t, p.ID).Status)

	env.appendEvent(t, p.ID, "revisit_required", "still leaking")
	require.Equal(t, domain.StatusRevision, env.project(t, p.ID).Status)
	env.appendEvent(t, p.ID, "progress_note", "rework completed")
	assert.Equal(t, domain.StatusSubmitted, env.project(t, p.ID).Status)
}

func TestOneTransitionPerAppend(t *testing.T) {
	env := newTestEnv(t)
	p := env.assignedProject(t)
	// activity + keyword on an assigned project only starts work
	env.appendEvent(t, p.ID, "check_in", "prep completed")
	assert.Equal(t, domain.StatusInProgress, env.project(t, p.ID).Status)

	// revision signal + keyword: the more advanced target wins
	env.appendEvent(t, p.ID, "revisit_required", "fix completed")
	assert.Equal(t, domain.StatusSubmitted, env.project(t, p.ID).Status)

	entries, err := env.Engine.ListJournal(env.Ctx, engine.JournalFilter{ProjectID: p.ID, Type: "project.transitioned", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, entries, 3, "assigned, in_progress, submitted")
}

func TestDuplicateApplicationAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.submit(t, p.ID, pro, 0)

	_, err := env.Engine.SubmitApplication(env.Ctx, engine.ApplicationDraft{ProjectID: p.ID, ProfessionalID: pro})
	assert.ErrorIs(t, err, engine.ErrDuplicateApplication)

	_, err = env.Engine.SubmitApplication(env.Ctx, engine.ApplicationDraft{ProjectID: p.ID, ProfessionalID: client})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.WithdrawApplication(env.Ctx, a.ID, pro)
	require.NoError(t, err)
	b := env.submit(t, p.ID, pro, domain.Money(55000))
	assert.NotEqual(t, a.ID, b.ID)

	all, err := env.Engine.ListApplications(env.Ctx, repo.ApplicationFilters{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2, "withdrawn applications are retained")
}

func TestRejectApplication(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.submit(t, p.ID, pro, 0)
	b := env.submit(t, p.ID, pro2, 0)

	_, err := env.Engine.RejectApplication(env.Ctx, a.ID, "someone-else")
	assert.ErrorIs(t, err, engine.ErrNotProjectOwner)

	rejected, err := env.Engine.RejectApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationRejected, rejected.Status)
	_, err = env.Engine.RejectApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	_, err = env.Engine.AcceptApplication(env.Ctx, a.ID, client)
	assert.ErrorIs(t, err, engine.ErrApplicationNotPending)

	_, err = env.Engine.AcceptApplication(env.Ctx, b.ID, client)
	require.NoError(t, err)
	c, err := env.Engine.GetApplication(env.Ctx, b.ID)
	require.NoError(t, err)
	// rejecting once the project has left open is a no-op
	same, err := env.Engine.RejectApplication(env.Ctx, c.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationAccepted, same.Status)
}

func TestWithdrawApplication(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.submit(t, p.ID, pro, 0)

	_, err := env.Engine.WithdrawApplication(env.Ctx, a.ID, pro2)
	assert.ErrorIs(t, err, engine.ErrNotProjectOwner)

	_, err = env.Engine.AcceptApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	_, err = env.Engine.WithdrawApplication(env.Ctx, a.ID, pro)
	assert.ErrorIs(t, err, engine.ErrApplicationNotPending)
}

func TestMarkCompleteRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.assignedProject(t)

	_, err := env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	var ee *engine.Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "assigned->completed", ee.Edge)
	assert.Equal(t, string(domain.StatusAssigned), ee.Status)
	assert.Equal(t, domain.StatusAssigned, env.project(t, p.ID).Status, "failed transition leaves the project unchanged")

	env.appendEvent(t, p.ID, "check_in", "")
	_, err = env.Engine.MarkComplete(env.Ctx, p.ID, pro2)
	assert.ErrorIs(t, err, engine.ErrNotAssignedProfessional)

	done, err := env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	again, err := env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err, "re-applying a transition is a no-op")
	assert.Equal(t, done.UpdatedAt, again.UpdatedAt)
}

func TestCancelProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	pending := env.submit(t, p.ID, pro, 0)

	_, err := env.Engine.CancelProject(env.Ctx, p.ID, pro, "")
	assert.ErrorIs(t, err, engine.ErrNotProjectOwner)

	cancelled, err := env.Engine.CancelProject(env.Ctx, p.ID, client, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	_, err = env.Engine.CancelProject(env.Ctx, p.ID, client, "")
	require.NoError(t, err)

	_, err = env.Engine.AcceptApplication(env.Ctx, pending.ID, client)
	assert.ErrorIs(t, err, engine.ErrProjectNotOpen)
	_, err = env.Engine.WithdrawApplication(env.Ctx, pending.ID, pro)
	assert.ErrorIs(t, err, engine.ErrProjectNotOpen)

	// the assigned professional may cancel; assignment is cleared
	q := env.inProgressProject(t)
	q, err = env.Engine.CancelProject(env.Ctx, q.ID, pro, "")
	require.NoError(t, err)
	assert.Nil(t, q.AssignedTo)
	env.project(t, q.ID)
	_, err = env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: q.ID, AuthorID: pro, UpdateType: "check_in"})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable)
}

func TestCannotCancelCompletedProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.inProgressProject(t)
	_, err := env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err)
	_, err = env.Engine.CancelProject(env.Ctx, p.ID, client, "")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestReviewPreconditions(t *testing.T) {
	env := newTestEnv(t)
	p := env.inProgressProject(t)

	_, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: client, Rating: 5})
	assert.ErrorIs(t, err, engine.ErrProjectNotCompleted)
	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: "intruder", Rating: 5})
	assert.ErrorIs(t, err, engine.ErrNotProjectOwner)
	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: client, Rating: 6})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestPaymentSettlement(t *testing.T) {
	env := newTestEnv(t)
	open := env.createProject(t)
	_, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentInput{ProjectID: open.ID, ClientID: client, Amount: 100})
	assert.ErrorIs(t, err, engine.ErrProjectNotActionable)

	p := env.inProgressProject(t)
	_, err = env.Engine.CreatePayment(env.Ctx, engine.PaymentInput{ProjectID: p.ID, ClientID: pro, Amount: 100})
	assert.ErrorIs(t, err, engine.ErrNotProjectOwner)
	_, err = env.Engine.CreatePayment(env.Ctx, engine.PaymentInput{ProjectID: p.ID, ClientID: client, Amount: 0})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	pay, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentInput{ProjectID: p.ID, ClientID: client, Amount: domain.Money(50000)})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, pay.Status)
	assert.Equal(t, pro, pay.ProfessionalID)

	_, err = env.Engine.MarkPaymentComplete(env.Ctx, pay.ID, "settler")
	assert.ErrorIs(t, err, engine.ErrProjectNotCompleted)

	_, err = env.Engine.MarkComplete(env.Ctx, p.ID, pro)
	require.NoError(t, err)
	done, err := env.Engine.MarkPaymentComplete(env.Ctx, pay.ID, "settler")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, done.Status)
	assert.Equal(t, domain.StatusPaid, env.project(t, p.ID).Status)

	_, err = env.Engine.MarkPaymentComplete(env.Ctx, pay.ID, "settler")
	require.NoError(t, err, "completing twice is a no-op")
	_, err = env.Engine.MarkPaymentFailed(env.Ctx, pay.ID, "settler", "")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	second, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentInput{ProjectID: p.ID, ClientID: client, Amount: domain.Money(1000)})
	require.NoError(t, err)
	failed, err := env.Engine.MarkPaymentFailed(env.Ctx, second.ID, "settler", "card declined")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, failed.Status)
	_, err = env.Engine.MarkPaymentComplete(env.Ctx, second.ID, "settler")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{ProjectID: p.ID, ClientID: client, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, env.project(t, p.ID).Status)

	payments, err := env.Engine.ListPayments(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestListEventsOrderFilterAndPaging(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Ledger.PageSize = 2
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := env.inProgressProject(t)
	env.Engine.Now = func() time.Time { return fixed }

	env.appendEvent(t, p.ID, "progress_note", "demo old fixture")
	env.appendEvent(t, p.ID, "photo", "before shot")
	env.appendEvent(t, p.ID, "progress_note", "new fixture fitted")
	require.Equal(t, domain.StatusInProgress, env.project(t, p.ID).Status)
	_, err := env.Engine.AppendEvent(env.Ctx, engine.EventInput{ProjectID: p.ID, AuthorID: pro, UpdateType: "delay", Metadata: map[string]any{"reason": "parts"}})
	require.NoError(t, err)

	all, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{}), 0)
	require.NoError(t, err)
	require.Len(t, all, 5, "check_in plus four appends")
	assert.Equal(t, "delay", all[0].UpdateType)
	assert.Equal(t, "check_in", all[len(all)-1].UpdateType)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CreatedAt > all[i].CreatedAt, "timestamps strictly decrease")
	}

	notes, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{UpdateType: "progress_note"}), 0)
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	matched, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{Query: "FIXTURE"}), 0)
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	byCategory, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{Query: "files"}), 0)
	require.NoError(t, err)
	assert.Len(t, byCategory, 1)

	first, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{}), 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	rest, err := engine.CollectEvents(env.Engine.ListEvents(env.Ctx, p.ID, engine.EventFilter{BeforeTS: first[0].CreatedAt, BeforeSeq: first[0].Seq}), 0)
	require.NoError(t, err)
	assert.Len(t, rest, 4)

	_, err = engine.CollectEvents(env.Engine.ListEvents(env.Ctx, "missing", engine.EventFilter{}), 0)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestNotifierSeesCommittedChanges(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.submit(t, p.ID, pro, 0)
	ch, cancel := env.Hub.Subscribe(p.ID)
	defer cancel()

	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	select {
	case c := <-ch:
		assert.Equal(t, p.ID, c.ProjectID)
	case <-time.After(time.Second):
		t.Fatal("no change notification after accept")
	}
}

func TestJournalRecordsMutations(t *testing.T) {
	env := newTestEnv(t)
	p := env.inProgressProject(t)
	entries, err := env.Engine.ListJournal(env.Ctx, engine.JournalFilter{ProjectID: p.ID, Limit: 50})
	require.NoError(t, err)
	var types []string
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		"project.transitioned",
		"event.appended",
		"application.accepted",
		"project.transitioned",
		"application.submitted",
		"project.created",
	}, types)
}

func TestKindOfClassifiesErrors(t *testing.T) {
	assert.Equal(t, engine.Kind(""), engine.KindOf(nil))
	assert.Equal(t, engine.ErrNotFound, engine.KindOf(repo.ErrNotFound))
	assert.Equal(t, engine.ErrTransientFailure, engine.KindOf(errors.New("disk I/O error")))
	assert.Equal(t, engine.ErrProjectNotOpen, engine.KindOf(&engine.Error{Kind: engine.ErrProjectNotOpen, Op: "x"}))
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	issued, err := env.Engine.CreateAPIKey(ctx, domain.Actor{ID: "pro-9", Role: domain.RoleProfessional}, "laptop", "admin-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(issued.Secret, "tl_"))
	require.Equal(t, repo.HashAPIKey(issued.Secret), issued.KeyHash)

	actors, err := env.Engine.ListActors(ctx, "professional")
	require.NoError(t, err)
	require.Len(t, actors, 1)
	require.Equal(t, "pro-9", actors[0].ID)

	keys, err := env.Engine.ListAPIKeys(ctx, "pro-9")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "admin-1", keys[0].IssuedBy)
	require.Empty(t, keys[0].LastUsedAt)

	// A key for an existing actor acts with the stored role, not the requested one.
	again, err := env.Engine.CreateAPIKey(ctx, domain.Actor{ID: "pro-9", Role: domain.RoleAdmin}, "escalate", "admin-1")
	require.NoError(t, err)
	actor, key, err := env.Engine.Repo.AuthenticateAPIKey(ctx, repo.HashAPIKey(again.Secret), "2024-02-01T00:00:00.000000000Z")
	require.NoError(t, err)
	require.Equal(t, domain.RoleProfessional, actor.Role)
	require.Equal(t, again.ID, key.ID)
	keys, err = env.Engine.ListAPIKeys(ctx, "pro-9")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		if k.ID == again.ID {
			require.Equal(t, "2024-02-01T00:00:00.000000000Z", k.LastUsedAt)
		}
	}
	_, _, err = env.Engine.Repo.AuthenticateAPIKey(ctx, repo.HashAPIKey("tl_unknown"), "x")
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, env.Engine.RevokeAPIKey(ctx, issued.ID, "admin-1"))
	err = env.Engine.RevokeAPIKey(ctx, issued.ID, "admin-1")
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, _, err = env.Engine.Repo.AuthenticateAPIKey(ctx, repo.HashAPIKey(issued.Secret), "x")
	require.ErrorIs(t, err, repo.ErrNotFound)

	revoked, err := env.Engine.ListJournal(ctx, engine.JournalFilter{Type: "apikey.revoked"})
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	require.Equal(t, "admin-1", revoked[0].ActorID)
	require.Equal(t, "pro-9", revoked[0].EntityID)

	_, err = env.Engine.CreateAPIKey(ctx, domain.Actor{ID: "x", Role: "owner"}, "", "")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.ListActors(ctx, "owner")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}
