package order

import (
	"errors"
	"fmt"
	"slices"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/models"
)

var (
	ErrInvalidTransition  = errors.New("Transition de statut invalide")
	ErrStatusAlreadySet   = errors.New("La commande a déjà ce statut")
	ErrTrackingRequired   = errors.New("Numéro de suivi et transporteur requis pour l'expédition")
	ErrNotAuthorized      = errors.New("Vous n'êtes pas autorisé à modifier cette commande")
	ErrRefundAmount       = errors.New("Montant de remboursement invalide")
	ErrEmptyOrder         = errors.New("Le panier est vide")
	ErrCheckoutInProgress = errors.New("Checkout déjà en cours pour cette clé d'idempotence")
	ErrRefundInProgress   = errors.New("Un remboursement est déjà en cours pour cette commande")
)

// Cycle de vie : pending → processing → shipped → delivered, avec annulation
// possible tant que la commande n'est pas livrée et remboursement depuis tout
// statut sauf cancelled/refunded.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:    {models.OrderProcessing, models.OrderShipped, models.OrderDelivered, models.OrderCancelled, models.OrderRefunded},
	models.OrderProcessing: {models.OrderShipped, models.OrderDelivered, models.OrderCancelled, models.OrderRefunded},
	models.OrderShipped:    {models.OrderDelivered, models.OrderCancelled, models.OrderRefunded},
	models.OrderDelivered:  {models.OrderRefunded},
}

// CanTransition retourne nil si from → to est autorisé.
func CanTransition(from, to models.OrderStatus) error {
	if !to.Valid() {
		return apperr.Validation(fmt.Sprintf("Statut invalide: %s", to))
	}
	if from == to {
		return apperr.Rule(ErrStatusAlreadySet)
	}
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return apperr.Rulef(ErrInvalidTransition, fmt.Sprintf("Transition %s → %s impossible", from, to))
}

// canManage : admin, ou vendeur d'au moins une ligne. Le vendeur agit alors sur toute la commande.
func canManage(actor models.Identity, o *models.Order) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.UserID != "" && o.HasSeller(actor.UserID)
}

func canView(actor models.Identity, o *models.Order) bool {
	return canManage(actor, o) || (actor.UserID != "" && o.BuyerID == actor.UserID)
}
