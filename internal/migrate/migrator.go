// Package migrate moves provider user identities from the legacy
// subject-derived form to the tenant-qualified form. Channels keep their
// history: the new identity is added to every channel the legacy one belongs
// to before the legacy membership is removed, so an interrupted run leaves
// both identities in place and a re-run converges.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/identity"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

// DefaultPageSize bounds each provider listing request.
const DefaultPageSize = 100

// Config describes the dependencies and switches of a migration run.
type Config struct {
	Tenancy  *tenancy.Service
	Provider provider.Client
	Retry    retry.Policy
	Clock    func() time.Time
	Logger   *zap.Logger
	// PageSize bounds each provider listing request.
	PageSize int
	// DryRun reports what would change without mutating the provider.
	DryRun bool
	// DeleteLegacy removes the legacy identity once its channels are
	// repointed.
	DeleteLegacy bool
}

// Migrator walks the provider's user directory and rewrites legacy
// identities. Tenant-qualified identities pass through untouched, so runs
// are safe to repeat.
type Migrator struct {
	tenancy      *tenancy.Service
	provider     provider.Client
	retry        retry.Policy
	clock        func() time.Time
	logger       *zap.Logger
	pageSize     int
	dryRun       bool
	deleteLegacy bool
}

// New validates the configuration and returns a ready migrator.
func New(cfg Config) (*Migrator, error) {
	if cfg.Tenancy == nil {
		return nil, fmt.Errorf("migrate: tenancy service required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("migrate: provider client required")
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
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Migrator{
		tenancy:      cfg.Tenancy,
		provider:     cfg.Provider,
		retry:        retryPolicy,
		clock:        clock,
		logger:       logger,
		pageSize:     pageSize,
		dryRun:       cfg.DryRun,
		deleteLegacy: cfg.DeleteLegacy,
	}, nil
}

// Report summarizes one migration run. In dry-run mode the counters describe
// the mutations the run would have performed.
type Report struct {
	RunID             string
	UsersSeen         int
	LegacyUsers       int
	Migrated          int
	ChannelsRepointed int
	Skipped           int
	Deleted           int
	DryRun            bool
}

// Run migrates every legacy provider identity it can resolve to a local
// user. Users it cannot resolve are skipped and logged, never guessed.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), DryRun: m.dryRun}
	started := m.clock()

	m.logger.Info("starting identity migration",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", m.dryRun),
		zap.Bool("delete_legacy", m.deleteLegacy),
		zap.Int("page_size", m.pageSize))

	index, err := m.tenancy.LegacySubjectIndex(ctx)
	if err != nil {
		return report, fmt.Errorf("migrate: building subject index: %w", err)
	}

	// Snapshot the directory before mutating it; upserts during the walk
	// would shift offset-based pages.
	users, err := m.listAllUsers(ctx)
	if err != nil {
		return report, err
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.UsersSeen++

		parsed, parseErr := identity.Parse(user.ID)
		if parseErr != nil {
			m.logger.Warn("skipping unrecognized provider identity",
				zap.String("run_id", report.RunID),
				zap.String("provider_id", user.ID))
			report.Skipped++
			continue
		}
		if parsed.IsTenantQualified() {
			continue
		}
		report.LegacyUsers++

		localUser, ok := index[parsed.Subject]
		if !ok {
			m.logger.Warn("no local user for legacy identity",
				zap.String("run_id", report.RunID),
				zap.String("provider_id", parsed.Raw))
			report.Skipped++
			continue
		}

		tenants, tenantsErr := m.tenancy.TenantsOf(ctx, localUser.ID)
		if tenantsErr != nil {
			return report, fmt.Errorf("migrate: resolving tenants of user %d: %w", localUser.ID, tenantsErr)
		}
		if len(tenants) == 0 {
			m.logger.Warn("legacy identity belongs to no gym",
				zap.String("run_id", report.RunID),
				zap.String("provider_id", parsed.Raw),
				zap.Int64("user_id", localUser.ID))
			report.Skipped++
			continue
		}

		// Tenant lists are sorted, so the first entry is the stable choice.
		targetTenant := tenants[0]
		newExternal, extErr := identity.External(localUser.ID, targetTenant)
		if extErr != nil {
			report.Skipped++
			continue
		}

		if migrateErr := m.migrateUser(ctx, &report, user, localUser, parsed.Raw, newExternal, tenants); migrateErr != nil {
			if errors.Is(migrateErr, context.Canceled) || errors.Is(migrateErr, context.DeadlineExceeded) {
				return report, migrateErr
			}
			m.logger.Error("migrating identity failed",
				zap.String("run_id", report.RunID),
				zap.String("provider_id", parsed.Raw),
				zap.Error(migrateErr))
			report.Skipped++
			continue
		}
		report.Migrated++
	}

	m.logger.Info("identity migration finished",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("users_seen", report.UsersSeen),
		zap.Int("legacy_users", report.LegacyUsers),
		zap.Int("migrated", report.Migrated),
		zap.Int("channels_repointed", report.ChannelsRepointed),
		zap.Int("skipped", report.Skipped),
		zap.Int("deleted", report.Deleted),
		zap.Duration("elapsed", m.clock().Sub(started)))
	return report, nil
}

func (m *Migrator) listAllUsers(ctx context.Context) ([]provider.User, error) {
	var all []provider.User
	for offset := 0; ; offset += m.pageSize {
		page, err := m.provider.ListUsers(ctx, provider.UserFilter{Limit: m.pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("migrate: listing provider users: %w", err)
		}
		all = append(all, page...)
		if len(page) < m.pageSize {
			return all, nil
		}
	}
}

func (m *Migrator) migrateUser(ctx context.Context, report *Report, providerUser provider.User, localUser tenancy.User, legacyID, newExternal string, tenants []int64) error {
	name := localUser.Name()
	if name == "" {
		name = providerUser.Name
	}
	teams := make([]string, 0, len(tenants))
	for _, tenantID := range tenants {
		teams = append(teams, fmt.Sprintf("gym_%d", tenantID))
	}

	if m.dryRun {
		m.logger.Info("would create tenant-qualified identity",
			zap.String("run_id", report.RunID),
			zap.String("legacy_id", legacyID),
			zap.String("new_id", newExternal))
	} else {
		if _, err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
			return m.provider.UpsertUser(ctx, provider.User{ID: newExternal, Name: name, Teams: teams})
		}); err != nil {
			return fmt.Errorf("upserting %q: %w", newExternal, err)
		}
	}

	if err := m.repointChannels(ctx, report, legacyID, newExternal); err != nil {
		return err
	}

	if m.deleteLegacy {
		if m.dryRun {
			m.logger.Info("would delete legacy identity",
				zap.String("run_id", report.RunID),
				zap.String("legacy_id", legacyID))
			report.Deleted++
			return nil
		}
		if _, err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
			return m.provider.DeleteUser(ctx, legacyID)
		}); err != nil && !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("deleting %q: %w", legacyID, err)
		}
		report.Deleted++
	}
	return nil
}

// repointChannels adds the new identity to every channel holding the legacy
// one, then removes the legacy membership. The add comes first so no channel
// ever drops to zero members of this user.
func (m *Migrator) repointChannels(ctx context.Context, report *Report, legacyID, newExternal string) error {
	for offset := 0; ; {
		channels, err := m.provider.ListChannels(ctx, provider.ChannelFilter{MemberID: legacyID, Limit: m.pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("listing channels of %q: %w", legacyID, err)
		}

		for _, channel := range channels {
			if m.dryRun {
				m.logger.Info("would repoint channel membership",
					zap.String("run_id", report.RunID),
					zap.String("channel_id", channel.ID),
					zap.String("legacy_id", legacyID),
					zap.String("new_id", newExternal))
				report.ChannelsRepointed++
				continue
			}
			if _, err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
				return m.provider.AddMembers(ctx, channel.Type, channel.ID, []string{newExternal})
			}); err != nil {
				return fmt.Errorf("adding %q to channel %q: %w", newExternal, channel.ID, err)
			}
			if _, err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
				return m.provider.RemoveMembers(ctx, channel.Type, channel.ID, []string{legacyID})
			}); err != nil {
				return fmt.Errorf("removing %q from channel %q: %w", legacyID, channel.ID, err)
			}
			report.ChannelsRepointed++
		}

		if len(channels) < m.pageSize {
			return nil
		}
		// Removals shrink the filtered set, so the next page starts at the
		// same offset. In dry-run nothing moved and the offset advances.
		if m.dryRun {
			offset += m.pageSize
		}
	}
}
