package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/cache"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/identity"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

// DefaultVerifiedTTL bounds how long a room skips provider verification
// after a successful consistency check.
const DefaultVerifiedTTL = 10 * time.Minute

// ResolverConfig describes the dependencies of the channel resolver.
type ResolverConfig struct {
	Store    *Store
	Tenancy  *tenancy.Service
	Provider provider.Client
	Cache    cache.Cache
	Retry    retry.Policy
	Clock    func() time.Time
	Logger   *zap.Logger
	// VerifiedTTL is how long a verification marker stays fresh.
	VerifiedTTL time.Duration
}

// Resolver owns the conversation lifecycle: it derives channel identities,
// keeps the local record and the provider converged, and applies the
// cross-gym visibility rule. There is no global lock; concurrent calls for
// the same conversation converge on the deterministic channel id.
type Resolver struct {
	store       *Store
	tenancy     *tenancy.Service
	provider    provider.Client
	cache       cache.Cache
	retry       retry.Policy
	clock       func() time.Time
	logger      *zap.Logger
	verifiedTTL time.Duration
}

// NewResolver validates the configuration and returns a ready resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("chat: store required")
	}
	if cfg.Tenancy == nil {
		return nil, fmt.Errorf("chat: tenancy service required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("chat: provider client required")
	}

	cacheBackend := cfg.Cache
	if cacheBackend == nil {
		cacheBackend = cache.NewMemory(cache.MemoryConfig{Clock: cfg.Clock})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryPolicy := cfg.Retry
	if retryPolicy.Retryable == nil {
		retryPolicy.Retryable = provider.Retryable
	}
	verifiedTTL := cfg.VerifiedTTL
	if verifiedTTL <= 0 {
		verifiedTTL = DefaultVerifiedTTL
	}

	return &Resolver{
		store:       cfg.Store,
		tenancy:     cfg.Tenancy,
		provider:    cfg.Provider,
		cache:       cacheBackend,
		retry:       retryPolicy,
		clock:       clock,
		logger:      logger,
		verifiedTTL: verifiedTTL,
	}, nil
}

// RoomRequest describes a group or event conversation to resolve.
type RoomRequest struct {
	CreatorID     int64
	MemberIDs     []int64
	Name          string
	EventID       *int64
	RequestingGym int64
}

// GetOrCreateDirectRoom resolves the single direct conversation between two
// users, creating it on first use. The owning gym is always the smallest gym
// id the pair shares, so the result does not depend on which gym asks or in
// which order the users are given.
func (r *Resolver) GetOrCreateDirectRoom(ctx context.Context, userA, userB, requestingGym int64) (Room, error) {
	if userA <= 0 || userB <= 0 || userA == userB {
		return Room{}, fmt.Errorf("%w: direct rooms need two distinct users", ErrInvalidParticipants)
	}
	if requestingGym <= 0 {
		return Room{}, tenancy.ErrInvalidGymID
	}

	shared, err := r.tenancy.SharedTenants(ctx, userA, userB)
	if err != nil {
		return Room{}, err
	}
	if len(shared) == 0 {
		return Room{}, fmt.Errorf("%w: users %d and %d", ErrNoSharedTenant, userA, userB)
	}
	owningGym := shared[0]

	room, err := r.store.FindDirectRoomByMembers(ctx, userA, userB)
	if err == nil {
		verified, verifyErr := r.verifiedRoom(ctx, room)
		if verifyErr == nil {
			return verified, nil
		}
		if !errors.Is(verifyErr, ErrInconsistentRecord) {
			return Room{}, verifyErr
		}
		// The stale record is gone; rebuild below.
	} else if !errors.Is(err, ErrRoomNotFound) {
		return Room{}, err
	}

	return r.createDirectRoom(ctx, userA, userB, owningGym, shared)
}

func (r *Resolver) createDirectRoom(ctx context.Context, userA, userB, owningGym int64, sharedGyms []int64) (Room, error) {
	users, err := r.participantUsers(ctx, []int64{userA, userB})
	if err != nil {
		return Room{}, err
	}

	channelID := DirectChannelID(userA, userB)
	teams := gymTeams(sharedGyms)

	externalA, err := identity.External(userA, owningGym)
	if err != nil {
		return Room{}, err
	}
	externalB, err := identity.External(userB, owningGym)
	if err != nil {
		return Room{}, err
	}

	if attempts, upsertErr := r.upsertProviderUser(ctx, externalA, users[userA], teams); upsertErr != nil {
		return Room{}, &ChannelCreationError{ChannelID: channelID, Attempts: attempts, Err: upsertErr}
	}
	if attempts, upsertErr := r.upsertProviderUser(ctx, externalB, users[userB], teams); upsertErr != nil {
		return Room{}, &ChannelCreationError{ChannelID: channelID, Attempts: attempts, Err: upsertErr}
	}

	metadata := map[string]string{"gym": gymTeam(owningGym)}
	room, err := r.createChannelAndRecord(ctx, createRequest{
		channelType: ChannelTypeMessaging,
		channelID:   channelID,
		creatorExt:  externalA,
		metadata:    metadata,
		memberExts:  []string{externalA, externalB},
		record: Room{
			ChannelID:   channelID,
			ChannelType: ChannelTypeMessaging,
			IsDirect:    true,
			GymID:       owningGym,
			CreatedBy:   min(userA, userB),
		},
		memberIDs: []int64{userA, userB},
	})
	return room, err
}

// GetOrCreateRoom resolves a group or event conversation. Event rooms are
// unique per event for the room's whole lifetime; archived rooms still hold
// the slot. The owning gym is the requesting gym when every participant
// belongs to it, otherwise the smallest gym they all share.
func (r *Resolver) GetOrCreateRoom(ctx context.Context, request RoomRequest) (Room, error) {
	if request.CreatorID <= 0 {
		return Room{}, fmt.Errorf("%w: creator id required", ErrInvalidParticipants)
	}
	for _, memberID := range request.MemberIDs {
		if memberID <= 0 {
			return Room{}, fmt.Errorf("%w: member ids must be positive", ErrInvalidParticipants)
		}
	}
	if request.EventID != nil && *request.EventID <= 0 {
		return Room{}, ErrInvalidEventID
	}

	participants := lo.Uniq(append([]int64{request.CreatorID}, request.MemberIDs...))

	if request.EventID != nil {
		room, err := r.store.FindRoomByEvent(ctx, *request.EventID)
		if err == nil {
			verified, verifyErr := r.verifiedRoom(ctx, room)
			if verifyErr == nil {
				return verified, nil
			}
			if !errors.Is(verifyErr, ErrInconsistentRecord) {
				return Room{}, verifyErr
			}
		} else if !errors.Is(err, ErrRoomNotFound) {
			return Room{}, err
		}
	}

	common, err := r.tenancy.CommonTenants(ctx, participants)
	if err != nil {
		return Room{}, err
	}
	if len(common) == 0 {
		return Room{}, fmt.Errorf("%w: no gym contains every participant", ErrNoSharedTenant)
	}
	owningGym := common[0]
	if lo.Contains(common, request.RequestingGym) {
		owningGym = request.RequestingGym
	}

	creatorExt, err := identity.External(request.CreatorID, owningGym)
	if err != nil {
		return Room{}, err
	}

	var channelID string
	if request.EventID != nil {
		channelID = EventChannelID(*request.EventID, creatorExt)
	} else {
		channelID = GroupChannelID(request.Name, request.CreatorID)
	}

	// Re-check by derived id before touching the provider; a concurrent
	// caller may have won the race since the event lookup.
	if existing, lookupErr := r.store.FindRoomByChannelID(ctx, channelID); lookupErr == nil {
		return existing, nil
	} else if !errors.Is(lookupErr, ErrRoomNotFound) {
		return Room{}, lookupErr
	}

	users, err := r.participantUsers(ctx, participants)
	if err != nil {
		return Room{}, err
	}

	teams := gymTeams([]int64{owningGym})
	memberExts := make([]string, 0, len(participants))
	for _, participantID := range participants {
		externalID, extErr := identity.External(participantID, owningGym)
		if extErr != nil {
			return Room{}, extErr
		}
		memberExts = append(memberExts, externalID)
		if attempts, upsertErr := r.upsertProviderUser(ctx, externalID, users[participantID], teams); upsertErr != nil {
			return Room{}, &ChannelCreationError{ChannelID: channelID, Attempts: attempts, Err: upsertErr}
		}
	}

	metadata := map[string]string{"gym": gymTeam(owningGym)}
	if request.Name != "" {
		metadata["name"] = request.Name
	}

	room, err := r.createChannelAndRecord(ctx, createRequest{
		channelType: ChannelTypeTeam,
		channelID:   channelID,
		creatorExt:  creatorExt,
		metadata:    metadata,
		memberExts:  memberExts,
		record: Room{
			ChannelID:   channelID,
			ChannelType: ChannelTypeTeam,
			Name:        request.Name,
			EventID:     request.EventID,
			GymID:       owningGym,
			CreatedBy:   request.CreatorID,
		},
		memberIDs: participants,
	})
	return room, err
}

type createRequest struct {
	channelType string
	channelID   string
	creatorExt  string
	metadata    map[string]string
	memberExts  []string
	record      Room
	memberIDs   []int64
}

// createChannelAndRecord runs the create, add-members, persist sequence.
// An "already exists" answer from the provider converges on whoever won the
// race; a failed member add is logged and the local record is still written
// so the conversation is not orphaned.
func (r *Resolver) createChannelAndRecord(ctx context.Context, request createRequest) (Room, error) {
	attempts, err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		_, createErr := r.provider.CreateChannel(ctx, request.channelType, request.channelID, request.creatorExt, request.metadata)
		return createErr
	})
	if err != nil {
		if !errors.Is(err, provider.ErrAlreadyExists) {
			return Room{}, &ChannelCreationError{ChannelID: request.channelID, Attempts: attempts, Err: err}
		}
		if existing, lookupErr := r.store.FindRoomByChannelID(ctx, request.channelID); lookupErr == nil {
			return existing, nil
		} else if !errors.Is(lookupErr, ErrRoomNotFound) {
			return Room{}, lookupErr
		}
		// The channel exists remotely with no local record, usually the
		// leftover of an interrupted earlier request. Adopt it.
		r.logger.Warn("adopting provider channel without local record",
			zap.String("channel_id", request.channelID),
			zap.String("channel_type", request.channelType))
	}

	if _, addErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.AddMembers(ctx, request.channelType, request.channelID, request.memberExts)
	}); addErr != nil {
		r.logger.Warn("adding channel members failed; keeping local record",
			zap.String("channel_id", request.channelID),
			zap.Error(addErr))
	}

	stored, storeErr := r.store.CreateRoomWithMembers(ctx, request.record, request.memberIDs)
	if storeErr != nil {
		return Room{}, storeErr
	}
	r.storeMarker(ctx, stored, request.memberIDs)
	return stored, nil
}

// GetRoom returns a room when the user may see it under the given gym.
func (r *Resolver) GetRoom(ctx context.Context, roomID uint, userID, gymID int64) (RoomSummary, error) {
	room, err := r.store.RoomByID(ctx, roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	memberIDs, err := r.store.MemberIDs(ctx, room.ID)
	if err != nil {
		return RoomSummary{}, err
	}
	if !lo.Contains(memberIDs, userID) {
		return RoomSummary{}, ErrRoomNotFound
	}

	inGym, err := r.tenancy.UsersInTenant(ctx, gymID, memberIDs)
	if err != nil {
		return RoomSummary{}, err
	}
	if !roomVisible(room, memberIDs, gymID, inGym) {
		return RoomSummary{}, ErrRoomNotFound
	}
	return RoomSummary{Room: room, MemberIDs: memberIDs}, nil
}

// ListVisibleRooms returns the user's conversations as seen from one gym:
// every room the gym owns plus direct rooms whose members all belong to the
// gym. Group rooms never cross gym boundaries, and rooms without members are
// dropped as corrupt. The answer always costs three queries.
func (r *Resolver) ListVisibleRooms(ctx context.Context, userID, gymID int64) ([]RoomSummary, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidParticipants)
	}

	rooms, err := r.store.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return []RoomSummary{}, nil
	}

	roomIDs := make([]uint, 0, len(rooms))
	for _, room := range rooms {
		roomIDs = append(roomIDs, room.ID)
	}
	memberSets, err := r.store.MembershipsByRooms(ctx, roomIDs)
	if err != nil {
		return nil, err
	}

	seen := map[int64]struct{}{}
	allMembers := make([]int64, 0, len(rooms)*2)
	for _, members := range memberSets {
		for _, memberID := range members {
			if _, ok := seen[memberID]; ok {
				continue
			}
			seen[memberID] = struct{}{}
			allMembers = append(allMembers, memberID)
		}
	}
	inGym, err := r.tenancy.UsersInTenant(ctx, gymID, allMembers)
	if err != nil {
		return nil, err
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		members := memberSets[room.ID]
		if len(members) == 0 {
			r.logger.Warn("dropping room without members from listing",
				zap.Uint("room_id", room.ID),
				zap.String("channel_id", room.ChannelID))
			continue
		}
		if !roomVisible(room, members, gymID, inGym) {
			continue
		}
		summaries = append(summaries, RoomSummary{Room: room, MemberIDs: members})
	}
	return summaries, nil
}

// roomVisible applies the cross-gym rule: the owning gym always sees its
// rooms; any other gym sees a direct room only when both members belong to
// it; group rooms never leak across gyms.
func roomVisible(room Room, memberIDs []int64, gymID int64, inGym map[int64]struct{}) bool {
	if room.GymID == gymID {
		return true
	}
	if !room.IsDirect {
		return false
	}
	for _, memberID := range memberIDs {
		if _, ok := inGym[memberID]; !ok {
			return false
		}
	}
	return true
}

// AddMember adds a user to a group room, provider first, then the local
// record. Direct rooms are immutable and archived rooms reject changes.
func (r *Resolver) AddMember(ctx context.Context, roomID uint, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id required", ErrInvalidParticipants)
	}
	room, err := r.store.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.IsDirect {
		return ErrDirectRoomImmutable
	}
	if room.Archived() {
		return ErrRoomArchived
	}

	belongs, err := r.tenancy.MemberOfTenant(ctx, userID, room.GymID)
	if err != nil {
		return err
	}
	if !belongs {
		return fmt.Errorf("%w: user %d, gym %d", ErrNotAMember, userID, room.GymID)
	}

	user, err := r.tenancy.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	externalID, err := identity.External(userID, room.GymID)
	if err != nil {
		return err
	}
	if _, upsertErr := r.upsertProviderUser(ctx, externalID, user, gymTeams([]int64{room.GymID})); upsertErr != nil {
		return upsertErr
	}

	if _, addErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.AddMembers(ctx, room.ChannelType, room.ChannelID, []string{externalID})
	}); addErr != nil {
		return fmt.Errorf("chat: adding member to channel %q: %w", room.ChannelID, addErr)
	}

	if err := r.store.AddMember(ctx, room.ID, userID); err != nil {
		return err
	}
	r.dropMarker(ctx, room.ChannelID)
	return nil
}

// RemoveMember removes a user from a group room. The provider removal is
// tolerated when the provider no longer knows the member or the channel.
func (r *Resolver) RemoveMember(ctx context.Context, roomID uint, userID int64) error {
	room, err := r.store.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.IsDirect {
		return ErrDirectRoomImmutable
	}

	if _, removeErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.RemoveMembers(ctx, room.ChannelType, room.ChannelID, []string{mustExternal(userID, room.GymID)})
	}); removeErr != nil && !errors.Is(removeErr, provider.ErrNotFound) {
		return fmt.Errorf("chat: removing member from channel %q: %w", room.ChannelID, removeErr)
	}

	if err := r.store.RemoveMember(ctx, room.ID, userID); err != nil {
		return err
	}
	r.dropMarker(ctx, room.ChannelID)
	return nil
}

// ArchiveEventRoom posts the closing notice, freezes the channel and marks
// the room archived. Archiving an already archived room is a no-op, so the
// closing job can run repeatedly.
func (r *Resolver) ArchiveEventRoom(ctx context.Context, eventID int64, notice string) error {
	room, err := r.store.FindRoomByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if room.Archived() {
		return nil
	}

	senderExt, err := identity.External(room.CreatedBy, room.GymID)
	if err != nil {
		return err
	}
	if notice != "" {
		if _, sendErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
			return r.provider.SendMessage(ctx, room.ChannelType, room.ChannelID, senderExt, notice)
		}); sendErr != nil {
			r.logger.Warn("posting closing notice failed",
				zap.String("channel_id", room.ChannelID),
				zap.Error(sendErr))
		}
	}

	if _, freezeErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.UpdateChannel(ctx, room.ChannelType, room.ChannelID, map[string]any{"frozen": true})
	}); freezeErr != nil {
		return fmt.Errorf("chat: freezing channel %q: %w", room.ChannelID, freezeErr)
	}

	return r.store.SetStatus(ctx, room.ID, RoomStatusArchived)
}

// DeleteRoom removes the provider channel and the local record. A channel
// the provider already lost is not an error.
func (r *Resolver) DeleteRoom(ctx context.Context, roomID uint) error {
	room, err := r.store.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}

	if _, deleteErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.DeleteChannel(ctx, room.ChannelType, room.ChannelID)
	}); deleteErr != nil && !errors.Is(deleteErr, provider.ErrNotFound) {
		return fmt.Errorf("chat: deleting channel %q: %w", room.ChannelID, deleteErr)
	}

	if err := r.store.DeleteRoom(ctx, room.ID); err != nil {
		return err
	}
	r.dropMarker(ctx, room.ChannelID)
	return nil
}

// verifiedRoom returns the room after confirming the provider still agrees
// with the local record. A fresh verification marker short-circuits the
// provider round-trip. Inconsistent records are deleted, never repaired, and
// the caller decides whether to recreate.
func (r *Resolver) verifiedRoom(ctx context.Context, room Room) (Room, error) {
	memberIDs, err := r.store.MemberIDs(ctx, room.ID)
	if err != nil {
		return Room{}, err
	}
	if r.markerFresh(ctx, room, memberIDs) {
		return room, nil
	}

	var channel provider.Channel
	attempts, queryErr := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		var innerErr error
		channel, innerErr = r.provider.QueryChannel(ctx, room.ChannelType, room.ChannelID)
		return innerErr
	})
	if queryErr != nil {
		if errors.Is(queryErr, provider.ErrNotFound) {
			r.discardRoom(ctx, room, "provider no longer knows the channel")
			return Room{}, fmt.Errorf("%w: channel %q is gone from the provider", ErrInconsistentRecord, room.ChannelID)
		}
		return Room{}, &ChannelQueryError{ChannelID: room.ChannelID, Attempts: attempts, Err: queryErr}
	}

	if validationErr := ValidateRoom(room, channel); validationErr != nil {
		r.discardRoom(ctx, room, validationErr.Error())
		return Room{}, validationErr
	}

	r.storeMarker(ctx, room, memberIDs)
	return room, nil
}

// discardRoom drops an inconsistent record. Deletion is the only repair this
// layer performs; recreation happens through the normal resolution path.
func (r *Resolver) discardRoom(ctx context.Context, room Room, reason string) {
	r.logger.Warn("discarding inconsistent room record",
		zap.Uint("room_id", room.ID),
		zap.String("channel_id", room.ChannelID),
		zap.String("reason", reason))
	if err := r.store.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, ErrRoomNotFound) {
		r.logger.Error("deleting inconsistent room failed",
			zap.Uint("room_id", room.ID),
			zap.Error(err))
	}
	r.dropMarker(ctx, room.ChannelID)
}

func (r *Resolver) participantUsers(ctx context.Context, userIDs []int64) (map[int64]tenancy.User, error) {
	users, err := r.tenancy.UsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		if _, ok := users[userID]; !ok {
			return nil, fmt.Errorf("%w: user %d does not exist", ErrInvalidParticipants, userID)
		}
	}
	return users, nil
}

func (r *Resolver) upsertProviderUser(ctx context.Context, externalID string, user tenancy.User, teams []string) (int, error) {
	attempts, err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.provider.UpsertUser(ctx, provider.User{ID: externalID, Name: user.Name(), Teams: teams})
	})
	if err != nil {
		return attempts, fmt.Errorf("chat: upserting provider user %q: %w", externalID, err)
	}
	return attempts, nil
}

type verifiedMarker struct {
	ChannelID   string  `json:"channel_id"`
	ChannelType string  `json:"channel_type"`
	MemberIDs   []int64 `json:"member_ids"`
}

func verifiedKey(channelID string) string {
	return "chat:room:" + channelID + ":verified"
}

// markerFresh reports whether a verification marker exists and still
// describes the room. Member drift invalidates the marker, forcing a real
// provider check on the next read.
func (r *Resolver) markerFresh(ctx context.Context, room Room, memberIDs []int64) bool {
	raw, err := r.cache.Get(ctx, verifiedKey(room.ChannelID))
	if err != nil {
		return false
	}
	var marker verifiedMarker
	if json.Unmarshal([]byte(raw), &marker) != nil {
		return false
	}
	if marker.ChannelID != room.ChannelID || marker.ChannelType != room.ChannelType {
		return false
	}
	current := append([]int64(nil), memberIDs...)
	sort.Slice(current, func(i, j int) bool { return current[i] < current[j] })
	recorded := append([]int64(nil), marker.MemberIDs...)
	sort.Slice(recorded, func(i, j int) bool { return recorded[i] < recorded[j] })
	if len(current) != len(recorded) {
		return false
	}
	for i := range current {
		if current[i] != recorded[i] {
			return false
		}
	}
	return true
}

func (r *Resolver) storeMarker(ctx context.Context, room Room, memberIDs []int64) {
	sorted := append([]int64(nil), memberIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	encoded, err := json.Marshal(verifiedMarker{
		ChannelID:   room.ChannelID,
		ChannelType: room.ChannelType,
		MemberIDs:   sorted,
	})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, verifiedKey(room.ChannelID), string(encoded), r.verifiedTTL); err != nil {
		r.logger.Debug("storing verification marker failed", zap.Error(err))
	}
}

func (r *Resolver) dropMarker(ctx context.Context, channelID string) {
	if err := r.cache.Delete(ctx, verifiedKey(channelID)); err != nil {
		r.logger.Debug("dropping verification marker failed", zap.Error(err))
	}
}

// mustExternal is for ids already validated by the caller.
func mustExternal(userID, gymID int64) string {
	externalID, err := identity.External(userID, gymID)
	if err != nil {
		return ""
	}
	return externalID
}

func gymTeam(gymID int64) string {
	return fmt.Sprintf("gym_%d", gymID)
}

func gymTeams(gymIDs []int64) []string {
	teams := make([]string, 0, len(gymIDs))
	for _, gymID := range gymIDs {
		teams = append(teams, gymTeam(gymID))
	}
	return teams
}
