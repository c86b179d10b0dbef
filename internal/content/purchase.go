// purchase.go -- ECS purchases, balances and admin ledger entries.
package content

import (
	"errors"
	"net/http"
	"time"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/entitlement"
	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/gofrs/uuid/v5"
)

type purchaseResponse struct {
	Success  bool            `json:"success"`
	Purchase *store.Purchase `json:"purchase"`
}

// Purchase handles PUT /action/purchase {upload_id}.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var in struct {
		UploadID uuid.UUID `json:"upload_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.UploadID == uuid.Nil {
		auth.BadRequest(w, "upload_id required")
		return
	}

	p, err := h.Entitlement.Purchase(r.Context(), id.UserID, in.UploadID)
	switch {
	case err == nil:
		logInfo(r, "purchase completed", "user_id", id.UserID, "upload_id", in.UploadID)
		auth.WriteJSON(w, http.StatusOK, purchaseResponse{Success: true, Purchase: p})
	case errors.Is(err, entitlement.ErrAlreadyPurchased):
		auth.Fail(w, http.StatusConflict, "already purchased")
	case errors.Is(err, entitlement.ErrInsufficientFunds):
		auth.Fail(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, entitlement.ErrOwnUpload):
		auth.BadRequest(w, "cannot purchase own upload")
	case errors.Is(err, entitlement.ErrUnknownUpload):
		auth.NotFound(w)
	default:
		auth.InternalServerError(w, r, err)
	}
}

type balanceResponse struct {
	Success bool  `json:"success"`
	Balance int64 `json:"balance"`
}

// Balance handles GET /ecs/balance for the caller.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	funds, err := h.PS.AvailableFunds(r.Context(), id.UserID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, balanceResponse{Success: true, Balance: funds})
}

// SystemTransaction handles PUT /admin/ecs/transactions -- grants or deducts ECS.
func (h *Handler) SystemTransaction(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var in struct {
		UserID  uuid.UUID `json:"user_id"`
		DeltaEC int64     `json:"delta_ec" validate:"required"`
		Reason  *string   `json:"reason" validate:"omitempty,max=500"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.UserID == uuid.Nil {
		auth.BadRequest(w, "user_id required")
		return
	}

	err := h.PS.CreateSystemTransaction(r.Context(), &store.SystemTransaction{
		AffectedUser:    in.UserID,
		TransactionDate: time.Now().UTC(),
		DeltaEC:         in.DeltaEC,
		Reason:          in.Reason,
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	logInfo(r, "system transaction recorded", "admin_id", admin.UserID, "user_id", in.UserID, "delta_ec", in.DeltaEC)
	auth.OK(w)
}
