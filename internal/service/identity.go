package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cadencehq/cadence/internal/billing"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
)

// IdentityResolver is re-exported from domain.
type IdentityResolver = domain.IdentityResolver

type identityResolver struct {
	repo            repository.Querier
	billingProvider billing.Provider
	logger          *slog.Logger
}

// NewIdentityResolver creates the resolver that maps (parent, studio)
// pairs to processor customers.
func NewIdentityResolver(repo repository.Querier, billingProvider billing.Provider, logger *slog.Logger) IdentityResolver {
	return &identityResolver{
		repo:            repo,
		billingProvider: billingProvider,
		logger:          logger,
	}
}

// ResolveCustomer finds or lazily creates the processor customer for a
// parent. Studios with an enabled connected account get an
// account-scoped customer; everything else shares the parent's
// platform-scope customer.
func (r *identityResolver) ResolveCustomer(ctx context.Context, parentID, studioID string) (*domain.ResolvedCustomer, error) {
	const op = "identityResolver.ResolveCustomer"

	parentUUID, err := parseUUID(parentID)
	if err != nil {
		return nil, domain.Errorf(domain.EINVALID, op, "Invalid parent id")
	}
	studioUUID, err := parseUUID(studioID)
	if err != nil {
		return nil, domain.Errorf(domain.EINVALID, op, "Invalid studio id")
	}

	parent, err := r.repo.GetParentByID(ctx, parentUUID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrParentNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load parent")
	}

	studio, err := r.repo.GetStudioByID(ctx, studioUUID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrStudioNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load studio")
	}

	// Connected scope requires a fully onboarded sub-account. A studio
	// that started onboarding but never finished keeps collecting on the
	// platform account.
	if studio.StripeEnabled && studio.OnboardingComplete && studio.StripeAccountID.Valid {
		return r.resolveConnected(ctx, parent, studio)
	}
	return r.resolvePlatform(ctx, parent, studio.Currency)
}

// ResolvePlatformCustomer finds or creates the parent's platform-scope
// customer without any studio context. Stored cards live here.
func (r *identityResolver) ResolvePlatformCustomer(ctx context.Context, parentID string) (*domain.ResolvedCustomer, error) {
	const op = "identityResolver.ResolvePlatformCustomer"

	parentUUID, err := parseUUID(parentID)
	if err != nil {
		return nil, domain.Errorf(domain.EINVALID, op, "Invalid parent id")
	}
	parent, err := r.repo.GetParentByID(ctx, parentUUID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrParentNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load parent")
	}
	return r.resolvePlatform(ctx, parent, "")
}

func (r *identityResolver) resolvePlatform(ctx context.Context, parent repository.Parent, currency string) (*domain.ResolvedCustomer, error) {
	const op = "identityResolver.resolvePlatform"

	if parent.StripeCustomerID.Valid && parent.StripeCustomerID.String != "" {
		return &domain.ResolvedCustomer{
			CustomerID: parent.StripeCustomerID.String,
			Currency:   currency,
		}, nil
	}

	if strings.TrimSpace(parent.Email) == "" {
		return nil, domain.ErrParentMissingContact
	}

	cus, err := r.billingProvider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email: parent.Email,
		Name:  parentDisplayName(parent),
		Phone: textString(parent.Phone),
		Metadata: map[string]string{
			"parent_id": parent.ID.String(),
		},
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create payment profile", op)
	}

	if err := r.repo.SetParentStripeCustomerID(ctx, repository.SetParentStripeCustomerIDParams{
		ID:               parent.ID,
		StripeCustomerID: cus.ID,
	}); err != nil {
		// The processor customer exists but the reference was lost; the
		// next resolution will create a duplicate that Stripe tolerates.
		r.logger.Error("failed to persist platform customer reference",
			"parent_id", parent.ID.String(),
			"stripe_customer_id", cus.ID,
			"error", err)
	}

	return &domain.ResolvedCustomer{CustomerID: cus.ID, Currency: currency}, nil
}

func (r *identityResolver) resolveConnected(ctx context.Context, parent repository.Parent, studio repository.Studio) (*domain.ResolvedCustomer, error) {
	const op = "identityResolver.resolveConnected"
	accountID := studio.StripeAccountID.String

	existing, err := r.repo.GetConnectedCustomer(ctx, repository.GetConnectedCustomerParams{
		ParentID: parent.ID,
		StudioID: studio.ID,
	})
	if err == nil {
		return &domain.ResolvedCustomer{
			CustomerID:         existing.StripeCustomerID,
			ConnectedAccountID: existing.StripeAccountID,
			Currency:           studio.Currency,
		}, nil
	}
	if !repository.IsNotFound(err) {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to look up customer mapping")
	}

	if strings.TrimSpace(parent.Email) == "" {
		return nil, domain.ErrParentMissingContact
	}

	metadata := map[string]string{
		"parent_id": parent.ID.String(),
		"studio_id": studio.ID.String(),
	}
	// The platform customer id ties the scoped profile back to the
	// identity that owns the stored cards.
	if parent.StripeCustomerID.Valid && parent.StripeCustomerID.String != "" {
		metadata["platform_customer_id"] = parent.StripeCustomerID.String
	}

	cus, err := r.billingProvider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email:              parent.Email,
		Name:               parentDisplayName(parent),
		Phone:              textString(parent.Phone),
		Metadata:           metadata,
		ConnectedAccountID: accountID,
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create payment profile", op)
	}

	created, err := r.repo.CreateConnectedCustomer(ctx, repository.CreateConnectedCustomerParams{
		ParentID:         parent.ID,
		StudioID:         studio.ID,
		StripeCustomerID: cus.ID,
		StripeAccountID:  accountID,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost the check-then-create race. The winner's mapping is
			// authoritative; ours becomes an orphaned processor customer.
			return r.rereadConnected(ctx, parent.ID, studio.ID, studio.Currency, op)
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to store customer mapping")
	}

	return &domain.ResolvedCustomer{
		CustomerID:         created.StripeCustomerID,
		ConnectedAccountID: created.StripeAccountID,
		Currency:           studio.Currency,
	}, nil
}

func (r *identityResolver) rereadConnected(ctx context.Context, parentID, studioID pgtype.UUID, currency, op string) (*domain.ResolvedCustomer, error) {
	winner, err := r.repo.GetConnectedCustomer(ctx, repository.GetConnectedCustomerParams{
		ParentID: parentID,
		StudioID: studioID,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to re-read customer mapping after conflict")
	}
	return &domain.ResolvedCustomer{
		CustomerID:         winner.StripeCustomerID,
		ConnectedAccountID: winner.StripeAccountID,
		Currency:           currency,
	}, nil
}

func parentDisplayName(parent repository.Parent) string {
	name := strings.TrimSpace(textString(parent.FirstName) + " " + textString(parent.LastName))
	if name == "" {
		return parent.Email
	}
	return name
}
