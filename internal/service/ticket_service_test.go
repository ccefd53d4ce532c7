package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/repository"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

const (
	guildID snowflake.ID = 1
	userID  snowflake.ID = 42
	roleID  snowflake.ID = 7
	staffA  snowflake.ID = 100
	staffB  snowflake.ID = 200
)

type harness struct {
	svc      *TicketService
	repo     *recordingRepo
	channels *fakeChannels

	mu     sync.Mutex
	events []events.EventType
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{repo: newRecordingRepo(), channels: newFakeChannels(roleID)}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			h.mu.Lock()
			h.events = append(h.events, e.Type)
			h.mu.Unlock()
			return nil
		})
	}
	h.svc = NewTicketService(TicketDependencies{
		TicketRepo: h.repo,
		Channels:   h.channels,
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(),
		Logger:     zap.NewNop(),
	})
	return h
}

func (h *harness) open(t *testing.T) OpenResult {
	t.Helper()
	res, err := h.svc.Open(context.Background(), guildID, userID, roleID)
	require.NoError(t, err)
	return res
}

func (h *harness) published() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.EventType(nil), h.events...)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "want %s, got %v", code, err)
}

func TestOpenCreatesBoundTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.open(t)
	require.NotEmpty(t, res.TicketID)

	ticket, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Nil(t, ticket.ClaimedBy)
	require.NotNil(t, ticket.ChannelID)
	assert.Equal(t, res.ChannelID, *ticket.ChannelID)

	assert.Equal(t, domain.OpenTicketOverrides(guildID, roleID, userID), h.channels.overrides(res.ChannelID))
	assert.Equal(t, []domain.NoticeKind{domain.NoticeWelcome}, h.channels.noticeKinds())
	assert.Equal(t, []events.EventType{events.EventTicketOpened}, h.published())
}

func TestOpenIssuesDistinctIDs(t *testing.T) {
	h := newHarness(t)
	first := h.open(t)
	second := h.open(t)
	assert.NotEqual(t, first.TicketID, second.TicketID)
	assert.NotEqual(t, first.ChannelID, second.ChannelID)
}

func TestOpenWithMissingRoleLeavesOrphan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Open(ctx, guildID, userID, 999)
	requireCode(t, err, apperrors.CodeSupportRoleMissing)

	orphans, err := h.repo.List(ctx, repository.TicketFilter{Unbound: true})
	require.NoError(t, err)
	assert.Len(t, orphans, 1)
	assert.Empty(t, h.channels.channels)
	assert.Empty(t, h.published())
}

func TestOpenChannelForbidden(t *testing.T) {
	h := newHarness(t)
	h.channels.createErr = ErrChannelForbidden

	_, err := h.svc.Open(context.Background(), guildID, userID, roleID)
	requireCode(t, err, apperrors.CodeChannelFailure)
	assert.ErrorIs(t, err, ErrChannelForbidden)

	orphans, err := h.repo.List(context.Background(), repository.TicketFilter{Unbound: true})
	require.NoError(t, err)
	assert.Len(t, orphans, 1)
}

func TestOpenBindFailureRemovesChannel(t *testing.T) {
	h := newHarness(t)
	h.repo.setChannelErr = &repository.StoreError{Backend: "test", Op: "set channel", Err: errors.New("connection reset")}

	_, err := h.svc.Open(context.Background(), guildID, userID, roleID)
	requireCode(t, err, apperrors.CodeStoreFailure)
	assert.Len(t, h.channels.deleted, 1)
	assert.Empty(t, h.channels.channels)
	assert.Empty(t, h.channels.noticeKinds())
}

func TestOpenSurvivesNoticeFailure(t *testing.T) {
	h := newHarness(t)
	h.channels.noticeErr = errors.New("rate limited")

	res, err := h.svc.Open(context.Background(), guildID, userID, roleID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.TicketID)
}

func TestClaimThenLoseToExistingClaimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	first, err := h.svc.Claim(ctx, res.ChannelID, staffA)
	require.NoError(t, err)
	assert.Equal(t, ClaimSucceeded, first.Outcome)
	assert.Equal(t, staffA, first.ClaimedBy)

	second, err := h.svc.Claim(ctx, res.ChannelID, staffB)
	require.NoError(t, err)
	assert.Equal(t, ClaimAlreadyClaimed, second.Outcome)
	assert.Equal(t, staffA, second.ClaimedBy)

	again, err := h.svc.Claim(ctx, res.ChannelID, staffA)
	require.NoError(t, err)
	assert.Equal(t, ClaimAlreadyClaimed, again.Outcome)
	assert.Equal(t, staffA, again.ClaimedBy)

	assert.Equal(t, []domain.NoticeKind{domain.NoticeWelcome, domain.NoticeClaimed}, h.channels.noticeKinds())
}

func TestConcurrentClaimsThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(staff snowflake.ID) {
			defer wg.Done()
			r, err := h.svc.Claim(ctx, res.ChannelID, staff)
			assert.NoError(t, err)
			if r.Outcome == ClaimSucceeded {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(snowflake.ID(1000 + i))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaimNoopWithoutClaimerIsInconsistent(t *testing.T) {
	h := newHarness(t)
	res := h.open(t)
	h.repo.claimNoop = true

	_, err := h.svc.Claim(context.Background(), res.ChannelID, staffA)
	requireCode(t, err, apperrors.CodeInconsistentState)
}

func TestClaimStoreFailureHidesCause(t *testing.T) {
	h := newHarness(t)
	res := h.open(t)
	h.repo.claimErr = &repository.StoreError{Backend: "test", Op: "claim", Err: errors.New("dial tcp 10.0.0.3:5432: refused")}

	_, err := h.svc.Claim(context.Background(), res.ChannelID, staffA)
	requireCode(t, err, apperrors.CodeStoreFailure)
	assert.NotContains(t, apperrors.ToDomainError(err).Message, "10.0.0.3")
}

func TestUnclaimRequiresClaimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	err := h.svc.Unclaim(ctx, res.ChannelID, staffA)
	requireCode(t, err, apperrors.CodeNotClaimant)

	_, err = h.svc.Claim(ctx, res.ChannelID, staffA)
	require.NoError(t, err)

	err = h.svc.Unclaim(ctx, res.ChannelID, staffB)
	requireCode(t, err, apperrors.CodeNotClaimant)

	ticket, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket.ClaimedBy)
	assert.Equal(t, staffA, *ticket.ClaimedBy)

	require.NoError(t, h.svc.Unclaim(ctx, res.ChannelID, staffA))
	ticket, err = h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Nil(t, ticket.ClaimedBy)
	assert.Contains(t, h.channels.noticeKinds(), domain.NoticeUnclaimed)
}

func TestGuardRejectsNonTicketChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(t)
	before := h.repo.mutated()
	stranger := snowflake.ID(555)

	calls := map[string]func() error{
		"close": func() error {
			_, err := h.svc.Close(ctx, stranger, guildID, roleID, staffA)
			return err
		},
		"delete": func() error { return h.svc.Delete(ctx, stranger) },
		"claim": func() error {
			_, err := h.svc.Claim(ctx, stranger, staffA)
			return err
		},
		"unclaim": func() error { return h.svc.Unclaim(ctx, stranger, staffA) },
		"add":     func() error { return h.svc.AddParticipant(ctx, stranger, userID) },
		"remove":  func() error { return h.svc.RemoveParticipant(ctx, stranger, userID) },
		"info": func() error {
			_, err := h.svc.Info(ctx, stranger)
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			requireCode(t, call(), apperrors.CodeNotTicketChannel)
		})
	}

	assert.Equal(t, before, h.repo.mutated(), "guard must not mutate the store")
	assert.Empty(t, h.channels.deleted)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeWelcome}, h.channels.noticeKinds())
}

func TestGuardStoreFailure(t *testing.T) {
	h := newHarness(t)
	res := h.open(t)
	h.repo.existsErr = errors.New("timeout")

	_, err := h.svc.Info(context.Background(), res.ChannelID)
	requireCode(t, err, apperrors.CodeStoreFailure)
}

func TestCloseLocksCreatorAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	first, err := h.svc.Close(ctx, res.ChannelID, guildID, roleID, staffA)
	require.NoError(t, err)
	assert.False(t, first.AlreadyClosed)
	assert.Equal(t, domain.ClosedTicketOverrides(guildID, roleID, userID), h.channels.overrides(res.ChannelID))

	closed, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	// Someone widened the channel again by hand; a second close repairs it.
	require.NoError(t, h.channels.SetPermissions(ctx, res.ChannelID, domain.OpenTicketOverrides(guildID, roleID, userID)))

	second, err := h.svc.Close(ctx, res.ChannelID, guildID, roleID, staffB)
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, domain.ClosedTicketOverrides(guildID, roleID, userID), h.channels.overrides(res.ChannelID))

	again, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.True(t, closed.ClosedAt.Equal(*again.ClosedAt))

	assert.Equal(t, []domain.NoticeKind{domain.NoticeWelcome, domain.NoticeClosed}, h.channels.noticeKinds())
	assert.Equal(t, []events.EventType{events.EventTicketOpened, events.EventTicketClosed}, h.published())
}

func TestCloseEditFailureKeepsStoreClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)
	h.channels.setPermsErr = ErrChannelForbidden

	_, err := h.svc.Close(ctx, res.ChannelID, guildID, roleID, staffA)
	requireCode(t, err, apperrors.CodeChannelFailure)

	ticket, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, ticket.Status)
}

func TestDeleteToleratesMissingChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	// Channel removed out-of-band.
	delete(h.channels.channels, res.ChannelID)

	require.NoError(t, h.svc.Delete(ctx, res.ChannelID))
	_, err := h.repo.GetByID(ctx, res.TicketID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRemovesChannelThenRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	require.NoError(t, h.svc.Delete(ctx, res.ChannelID))
	assert.Equal(t, []snowflake.ID{res.ChannelID}, h.channels.deleted)

	_, err := h.repo.GetByID(ctx, res.TicketID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	requireCode(t, h.svc.Delete(ctx, res.ChannelID), apperrors.CodeNotTicketChannel)
}

func TestDeleteForbiddenKeepsRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)
	h.channels.deleteErr = ErrChannelForbidden

	requireCode(t, h.svc.Delete(ctx, res.ChannelID), apperrors.CodeChannelFailure)
	_, err := h.repo.GetByID(ctx, res.TicketID)
	assert.NoError(t, err)
}

func TestParticipantsEditOverridesOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)
	guest := snowflake.ID(77)
	before := h.repo.mutated()

	require.NoError(t, h.svc.AddParticipant(ctx, res.ChannelID, guest))
	assert.Contains(t, h.channels.overrides(res.ChannelID), domain.ParticipantOverride(guest))

	require.NoError(t, h.svc.RemoveParticipant(ctx, res.ChannelID, guest))
	assert.NotContains(t, h.channels.overrides(res.ChannelID), domain.ParticipantOverride(guest))

	assert.Equal(t, before, h.repo.mutated())

	h.channels.upsertErr = errors.New("missing access")
	requireCode(t, h.svc.AddParticipant(ctx, res.ChannelID, guest), apperrors.CodeChannelFailure)
}

func TestInfoReturnsTicket(t *testing.T) {
	h := newHarness(t)
	res := h.open(t)

	ticket, err := h.svc.Info(context.Background(), res.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, res.TicketID, ticket.ID)
	assert.Equal(t, userID, ticket.CreatorID)
}

func TestReconcileOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(t)

	orphan, err := h.repo.Create(ctx, guildID, userID)
	require.NoError(t, err)

	report, err := h.svc.ReconcileOrphans(ctx, time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, report.Orphans)

	h.svc.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	report, err = h.svc.ReconcileOrphans(ctx, time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.Orphans)
	assert.Zero(t, report.Purged)
	_, err = h.repo.GetByID(ctx, orphan)
	require.NoError(t, err)

	report, err = h.svc.ReconcileOrphans(ctx, config.MinOrphanAge, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
	_, err = h.repo.GetByID(ctx, orphan)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcileRejectsShortOrphanAge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orphan, err := h.repo.Create(ctx, guildID, userID)
	require.NoError(t, err)

	for _, age := range []time.Duration{-time.Minute, 0, 15 * time.Second, config.MinOrphanAge - time.Nanosecond} {
		_, err := h.svc.ReconcileOrphans(ctx, age, true)
		requireCode(t, err, apperrors.CodeValidation)
	}
	_, err = h.repo.GetByID(ctx, orphan)
	assert.NoError(t, err)
}

func TestSweepDuringOpenLeavesTicketBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var sweepErr error
	h.channels.onCreate = func() {
		_, sweepErr = h.svc.ReconcileOrphans(ctx, 0, true)
	}

	res := h.open(t)

	requireCode(t, sweepErr, apperrors.CodeValidation)
	assert.Empty(t, h.channels.deleted)
	ticket, err := h.repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket.ChannelID)
	assert.Equal(t, res.ChannelID, *ticket.ChannelID)
}

func TestReconcileStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.listErr = errors.New("down")

	_, err := h.svc.ReconcileOrphans(context.Background(), time.Hour, false)
	requireCode(t, err, apperrors.CodeStoreFailure)
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	require.NoError(t, h.svc.Purge(ctx, res.TicketID, "admin"))
	assert.Equal(t, []snowflake.ID{res.ChannelID}, h.channels.deleted)
	_, err := h.repo.GetByID(ctx, res.TicketID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Contains(t, h.published(), events.EventTicketPurged)

	requireCode(t, h.svc.Purge(ctx, res.TicketID, "admin"), apperrors.CodeTicketNotFound)
}

func TestListAndGetTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.open(t)

	tickets, err := h.svc.ListTickets(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	ticket, err := h.svc.GetTicket(ctx, " "+res.TicketID+" ")
	require.NoError(t, err)
	assert.Equal(t, res.TicketID, ticket.ID)

	_, err = h.svc.GetTicket(ctx, "nope")
	requireCode(t, err, apperrors.CodeTicketNotFound)
}
