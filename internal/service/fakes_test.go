package service

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/repository"
)

// fakeChannels records every side effect and can be told to fail.
type fakeChannels struct {
	mu sync.Mutex

	nextChannel snowflake.ID
	roles       map[snowflake.ID]bool
	channels    map[snowflake.ID][]domain.PermissionOverride
	notices     []domain.Notice
	deleted     []snowflake.ID

	// onCreate runs before a channel is created, outside the lock.
	onCreate func()

	roleErr     error
	createErr   error
	setPermsErr error
	upsertErr   error
	removeErr   error
	deleteErr   error
	noticeErr   error
}

func newFakeChannels(roles ...snowflake.ID) *fakeChannels {
	f := &fakeChannels{
		nextChannel: 9000,
		roles:       make(map[snowflake.ID]bool),
		channels:    make(map[snowflake.ID][]domain.PermissionOverride),
	}
	for _, r := range roles {
		f.roles[r] = true
	}
	return f
}

func (f *fakeChannels) RoleExists(_ context.Context, _, roleID snowflake.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return false, f.roleErr
	}
	return f.roles[roleID], nil
}

func (f *fakeChannels) CreateChannel(_ context.Context, _ snowflake.ID, _ string, overrides []domain.PermissionOverride) (snowflake.ID, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextChannel++
	f.channels[f.nextChannel] = append([]domain.PermissionOverride(nil), overrides...)
	return f.nextChannel, nil
}

func (f *fakeChannels) SetPermissions(_ context.Context, channelID snowflake.ID, overrides []domain.PermissionOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setPermsErr != nil {
		return f.setPermsErr
	}
	f.channels[channelID] = append([]domain.PermissionOverride(nil), overrides...)
	return nil
}

func (f *fakeChannels) UpsertOverride(_ context.Context, channelID snowflake.ID, override domain.PermissionOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	current := f.channels[channelID]
	for i := range current {
		if current[i].TargetID == override.TargetID {
			current[i] = override
			return nil
		}
	}
	f.channels[channelID] = append(current, override)
	return nil
}

func (f *fakeChannels) RemoveOverride(_ context.Context, channelID, targetID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	current := f.channels[channelID]
	kept := current[:0]
	for _, o := range current {
		if o.TargetID != targetID {
			kept = append(kept, o)
		}
	}
	f.channels[channelID] = kept
	return nil
}

func (f *fakeChannels) DeleteChannel(_ context.Context, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.channels[channelID]; !ok {
		return ErrChannelNotFound
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeChannels) PostNotice(_ context.Context, _ snowflake.ID, notice domain.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noticeErr != nil {
		return f.noticeErr
	}
	f.notices = append(f.notices, notice)
	return nil
}

func (f *fakeChannels) overrides(channelID snowflake.ID) []domain.PermissionOverride {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PermissionOverride(nil), f.channels[channelID]...)
}

func (f *fakeChannels) noticeKinds() []domain.NoticeKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]domain.NoticeKind, 0, len(f.notices))
	for _, n := range f.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// recordingRepo counts mutating calls and can inject failures.
type recordingRepo struct {
	repository.TicketRepository

	mu        sync.Mutex
	mutations int

	setChannelErr error
	claimErr      error
	listErr       error
	existsErr     error
	// claimNoop makes Claim report false without writing.
	claimNoop bool
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{TicketRepository: repository.NewMemoryTicketRepository()}
}

func (r *recordingRepo) mutated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations
}

func (r *recordingRepo) bump() {
	r.mu.Lock()
	r.mutations++
	r.mu.Unlock()
}

func (r *recordingRepo) Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error) {
	r.bump()
	return r.TicketRepository.Create(ctx, guildID, creatorID)
}

func (r *recordingRepo) SetChannel(ctx context.Context, id string, channelID snowflake.ID) error {
	r.bump()
	if r.setChannelErr != nil {
		return r.setChannelErr
	}
	return r.TicketRepository.SetChannel(ctx, id, channelID)
}

func (r *recordingRepo) ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	return r.TicketRepository.ChannelExists(ctx, channelID)
}

func (r *recordingRepo) MarkClosed(ctx context.Context, id string) (bool, error) {
	r.bump()
	return r.TicketRepository.MarkClosed(ctx, id)
}

func (r *recordingRepo) Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	r.bump()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if r.claimNoop {
		return false, nil
	}
	return r.TicketRepository.Claim(ctx, id, staffID)
}

func (r *recordingRepo) Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	r.bump()
	return r.TicketRepository.Unclaim(ctx, id, staffID)
}

func (r *recordingRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.bump()
	return r.TicketRepository.Delete(ctx, id)
}

func (r *recordingRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.TicketRepository.List(ctx, filter)
}
