/**
 * @description
 * Escrow manager: conditional holds of funds pending an explicit release or
 * dispute, with automatic refund after expiry. Creating an escrow moves the
 * funds out of the funder's spendable balance into a system holding account,
 * so an escrowed amount can never be double-spent.
 *
 * State machine: pending -> completed (release), pending -> disputed
 * (dispute), pending -> expired (sweep refund). All three transitions lock
 * the escrow row and re-check pending inside the repository, so a sweep can
 * never race a manual release.
 *
 * @dependencies
 * - internal/store: Atomic escrow repository operations.
 * - internal/domain: Escrow model and validation helpers.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
	"github.com/victorisiguzoruzoma874/HashPay/internal/store"
)

const expirySweepBatchSize = 100

// CreateEscrow opens a new hold: the amount leaves the funder's spendable
// balance immediately and sits in the holding account until resolution.
func (s *Service) CreateEscrow(ctx context.Context, ownerID uuid.UUID, req domain.CreateEscrowRequest) (*domain.Escrow, error) {
	if !domain.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return nil, ErrInvalidRecipient
	}
	if !req.ExpiresAt.After(time.Now()) {
		return nil, ErrInvalidExpiry
	}

	escrow, err := s.repo.CreateEscrowAtomic(ctx, &domain.Escrow{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Recipient: recipient,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    domain.EscrowPending,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=escrow op=create escrow_id=%s owner_id=%s amount=%s currency=%s expires_at=%s",
		escrow.ID, ownerID, req.Amount.String(), currency, escrow.ExpiresAt.Format(time.RFC3339))
	return escrow, nil
}

// GetEscrow returns one escrow, visible only to its funder.
func (s *Service) GetEscrow(ctx context.Context, escrowID, requesterID uuid.UUID) (*domain.Escrow, error) {
	escrow, err := s.repo.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return escrow, nil
}

// ListEscrows returns the requester's escrows, newest first.
func (s *Service) ListEscrows(ctx context.Context, ownerID uuid.UUID) ([]domain.Escrow, error) {
	return s.repo.FindEscrowsByOwnerID(ctx, ownerID)
}

// ReleaseEscrow completes a pending escrow, paying the held amount out to the
// recipient recorded at creation. Only the funder may release.
func (s *Service) ReleaseEscrow(ctx context.Context, escrowID, requesterID uuid.UUID) (*domain.Escrow, error) {
	escrow, err := s.repo.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.OwnerID != requesterID {
		return nil, ErrForbidden
	}

	recipient, err := s.ResolveRecipient(ctx, escrow.Recipient)
	if err != nil {
		return nil, err
	}

	settlement := store.EscrowSettlement{}
	if recipient.Internal {
		ownerID := recipient.OwnerID
		settlement.RecipientOwnerID = &ownerID
	}

	// The pending check and the balance moves commit first; the rail is paid
	// only for an escrow that actually transitioned, so a lost race (already
	// expired or disputed) can never push value out of the ledger.
	outcome, err := s.repo.ReleaseEscrowAtomic(ctx, escrowID, settlement)
	if err != nil {
		return nil, err
	}
	released := outcome.Escrow

	if !recipient.Internal && s.rail != nil {
		ref, err := s.rail.SubmitSettlement(ctx, recipient.Descriptor, escrow.Amount, escrow.Currency)
		if err != nil {
			// The release is already committed; the payout needs operator
			// intervention, not a silent retry.
			log.Printf("level=error component=escrow op=release escrow_id=%s msg=\"chain settlement failed after release\" err=%v", escrowID, err)
			return nil, fmt.Errorf("escrow released but chain settlement failed: %w", err)
		}
		if err := s.repo.AttachSettlementRef(ctx, outcome.SentRecord.ID, ref); err != nil {
			log.Printf("level=warn component=escrow op=release escrow_id=%s msg=\"failed to store settlement ref\" ref=%s err=%v", escrowID, ref, err)
		}
	}

	if recipient.Internal {
		s.publishNotification(ctx, recipient.OwnerID, "Escrow Released",
			fmt.Sprintf("You received %s %s from an escrow release", escrow.Amount.String(), escrow.Currency), "escrow")
	}

	log.Printf("level=info component=escrow op=release escrow_id=%s owner_id=%s recipient=%s amount=%s currency=%s",
		escrowID, requesterID, escrow.Recipient, escrow.Amount.String(), escrow.Currency)
	return released, nil
}

// DisputeEscrow freezes a pending escrow. Funds stay in the holding account
// until the dispute is resolved out of band; the automatic expiry sweep skips
// disputed escrows.
func (s *Service) DisputeEscrow(ctx context.Context, escrowID, requesterID uuid.UUID) (*domain.Escrow, error) {
	escrow, err := s.repo.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.OwnerID != requesterID {
		return nil, ErrForbidden
	}

	disputed, err := s.repo.DisputeEscrowAtomic(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=escrow op=dispute escrow_id=%s owner_id=%s", escrowID, requesterID)
	return disputed, nil
}

// ExpireDueEscrows refunds every pending escrow whose expiry has passed,
// returning the held amount to the funder. It is invoked by the scheduler and
// is safe to run concurrently with manual releases: an escrow that loses the
// race is simply skipped.
func (s *Service) ExpireDueEscrows(ctx context.Context) (int, error) {
	due, err := s.repo.FindExpiredPendingEscrows(ctx, expirySweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired escrows: %w", err)
	}

	expired := 0
	for _, escrow := range due {
		refunded, err := s.repo.ExpireEscrowAtomic(ctx, escrow.ID)
		if err != nil {
			var stateErr *store.InvalidEscrowStateError
			if errors.As(err, &stateErr) {
				// Resolved between listing and locking; nothing to do.
				continue
			}
			log.Printf("level=error component=escrow op=expire escrow_id=%s err=%v", escrow.ID, err)
			continue
		}
		expired++

		s.publishNotification(ctx, refunded.OwnerID, "Escrow Expired",
			fmt.Sprintf("Your escrow of %s %s expired and was refunded", refunded.Amount.String(), refunded.Currency), "escrow")
	}

	if expired > 0 {
		log.Printf("level=info component=escrow op=sweep expired=%d scanned=%d", expired, len(due))
	}
	return expired, nil
}
