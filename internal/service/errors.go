package service

import (
	"net/http"
	"time"

	"github.com/spec-kit/ticketbot/internal/config"

	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

func errNotATicket() error {
	return apperrors.NewDomainError(apperrors.CodeNotTicketChannel,
		"This command can only be used inside a ticket channel.", http.StatusBadRequest, nil)
}

func errTicketNotFound(id string) error {
	return apperrors.NewDomainError(apperrors.CodeTicketNotFound,
		"That ticket no longer exists.", http.StatusNotFound, map[string]any{"ticket_id": id})
}

func errSupportRoleMissing() error {
	return apperrors.NewDomainError(apperrors.CodeSupportRoleMissing,
		"The support role is not configured correctly. Please contact an administrator.",
		http.StatusUnprocessableEntity, nil)
}

func errStoreFailure(err error) error {
	return apperrors.Wrap(apperrors.CodeStoreFailure,
		"The ticket database is unavailable right now. Please try again later.",
		http.StatusServiceUnavailable, err)
}

func errChannelFailure(err error) error {
	return apperrors.Wrap(apperrors.CodeChannelFailure,
		"I could not update the ticket channel. Check that I have the Manage Channels permission.",
		http.StatusBadGateway, err)
}

func errNotClaimant() error {
	return apperrors.NewDomainError(apperrors.CodeNotClaimant,
		"You have not claimed this ticket.", http.StatusConflict, nil)
}

func errInconsistentState(id string) error {
	return apperrors.NewDomainError(apperrors.CodeInconsistentState,
		"The ticket changed while processing your request. Please try again.",
		http.StatusConflict, map[string]any{"ticket_id": id})
}

func errOrphanAgeTooShort(got time.Duration) error {
	return apperrors.NewValidationError("orphan age must be at least "+config.MinOrphanAge.String(),
		map[string]any{"older_than": got.String()})
}
