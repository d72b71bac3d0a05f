package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
)

func newAssignmentServiceForTest(f *fixture) AssignmentService {
	return NewAssignmentService(f.assignments, f.tests, f.candidates, f.notifier, func(token string) string {
		return "https://assess.test/assessment/" + token
	}, newValidator(), testLogger())
}

func TestAssignmentServiceCreateInvitesCandidate(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := newAssignmentServiceForTest(f)

	created, err := svc.Create(context.Background(), dto.AssignmentCreateRequest{
		TestID:         f.test.ID,
		CandidateName:  "Grace Hopper",
		CandidateEmail: "Grace@Example.com",
	})
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusPending, created.Status)
	require.Equal(t, "grace@example.com", created.Candidate.Email)
	require.Equal(t, "Todo app", created.Test.Title)
	require.True(t, strings.HasPrefix(created.AccessLink, "https://assess.test/assessment/"))
	require.Len(t, strings.TrimPrefix(created.AccessLink, "https://assess.test/assessment/"), 32)

	require.Len(t, f.notifier.sent, 1)
	invite := f.notifier.sent[0]
	require.Equal(t, models.NotificationKindInvitation, invite.Kind)
	require.Equal(t, created.ID, invite.AssignmentID)
	require.Equal(t, created.AccessLink, invite.AccessLink)
}

func TestAssignmentServiceCreateValidates(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := newAssignmentServiceForTest(f)

	_, err := svc.Create(context.Background(), dto.AssignmentCreateRequest{TestID: f.test.ID, CandidateName: "Grace", CandidateEmail: "not-an-email"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "candidate_email")

	_, err = svc.Create(context.Background(), dto.AssignmentCreateRequest{TestID: 999, CandidateName: "Grace", CandidateEmail: "grace@example.com"})
	require.ErrorIs(t, err, ErrTestNotFound)
	require.Empty(t, f.notifier.sent)
}

func TestAssignmentServiceStartIsIdempotent(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := newAssignmentServiceForTest(f)
	ctx := context.Background()

	started, err := svc.Start(ctx, f.assignment.AccessToken)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)
	require.Empty(t, started.Candidate.Email, "candidate views hide recruiter-only fields")

	again, err := svc.Start(ctx, f.assignment.AccessToken)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusInProgress, again.Status)
	require.Equal(t, started.StartedAt.Unix(), again.StartedAt.Unix())

	_, err = svc.Start(ctx, "missing")
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestAssignmentServiceTransitionsOnlyMoveForward(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := newAssignmentServiceForTest(f)
	ctx := context.Background()

	_, err := svc.Transition(ctx, f.assignment.ID, dto.AssignmentStatusRequest{Status: models.AssignmentStatusCompleted})
	require.ErrorIs(t, err, ErrInvalidTransition, "completion comes from grading only")

	moved, err := svc.Transition(ctx, f.assignment.ID, dto.AssignmentStatusRequest{Status: models.AssignmentStatusInProgress})
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusInProgress, moved.Status)

	_, err = svc.Transition(ctx, f.assignment.ID, dto.AssignmentStatusRequest{Status: models.AssignmentStatusPending})
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, models.AssignmentStatusInProgress, transitionErr.From)

	_, err = svc.Transition(ctx, f.assignment.ID, dto.AssignmentStatusRequest{Status: "archived"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.Transition(ctx, 999, dto.AssignmentStatusRequest{Status: models.AssignmentStatusInProgress})
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestAssignmentServiceArchiveBlocksCandidateActions(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := newAssignmentServiceForTest(f)
	ctx := context.Background()

	archived, err := svc.Archive(ctx, f.assignment.ID)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)

	again, err := svc.Archive(ctx, f.assignment.ID)
	require.NoError(t, err)
	require.Equal(t, archived.ArchivedAt.Unix(), again.ArchivedAt.Unix())

	_, err = svc.Start(ctx, f.assignment.AccessToken)
	require.ErrorIs(t, err, ErrAssignmentArchived)
	_, err = svc.Transition(ctx, f.assignment.ID, dto.AssignmentStatusRequest{Status: models.AssignmentStatusInProgress})
	require.ErrorIs(t, err, ErrAssignmentArchived)
}

func TestTestServiceManagesConfigurations(t *testing.T) {
	f := newFixture(t, models.AssignmentStatusPending)
	svc := NewTestService(f.tests, newValidator(), testLogger())
	ctx := context.Background()

	created, err := svc.Create(ctx, dto.TestCreateRequest{Title: "Checkout flow"})
	require.NoError(t, err)

	configuration, err := svc.CreateConfiguration(ctx, created.ID, dto.TestConfigurationCreateRequest{Name: "pays", Script: "test('pays', () => {});"})
	require.NoError(t, err)
	require.True(t, configuration.Enabled, "configurations are enabled unless stated otherwise")

	disabled := false
	renamed := "pays with card"
	updated, err := svc.UpdateConfiguration(ctx, configuration.ID, dto.TestConfigurationUpdateRequest{Name: &renamed, Enabled: &disabled})
	require.NoError(t, err)
	require.False(t, updated.Enabled)
	require.Equal(t, "pays with card", updated.Name)
	require.Equal(t, "test('pays', () => {});", updated.Script)

	listed, err := svc.ListConfigurations(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.False(t, listed[0].Enabled)

	_, err = svc.CreateConfiguration(ctx, 999, dto.TestConfigurationCreateRequest{Name: "x", Script: "y"})
	require.ErrorIs(t, err, ErrTestNotFound)
	_, err = svc.UpdateConfiguration(ctx, 999, dto.TestConfigurationUpdateRequest{Name: &renamed})
	require.ErrorIs(t, err, ErrTestConfigurationNotFound)
}
