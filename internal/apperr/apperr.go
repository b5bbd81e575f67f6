// Package apperr porte la taxonomie d'erreurs partagée par les moteurs et les handlers HTTP.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindBusinessRule  Kind = "business_rule"
	KindConflict      Kind = "conflict"
	KindExternal      Kind = "external"
	KindIntegrity     Kind = "integrity"
	KindInternal      Kind = "internal"
)

// Error associe un message lisible par l'utilisateur à une catégorie.
// Err garde la cause (souvent une sentinelle) pour errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }
func Forbidden(msg string) *Error { return New(KindAuthorization, msg) }
func NotFound(msg string) *Error { return New(KindNotFound, msg) }
func Integrity(msg string) *Error { return New(KindIntegrity, msg) }
func Conflict(msg string) *Error { return New(KindConflict, msg) }
func Internal(err error) *Error { return Wrap(KindInternal, "Erreur interne", err) }
func External(msg string, err error) *Error { return Wrap(KindExternal, msg, err) }

// Rule construit un refus métier à partir d'une sentinelle; le message de la
// sentinelle est celui affiché au client.
func Rule(sentinel error) *Error {
	return &Error{Kind: KindBusinessRule, Message: sentinel.Error(), Err: sentinel}
}

// Rulef est Rule avec un message spécifique (ex: montant minimum).
func Rulef(sentinel error, msg string) *Error {
	return &Error{Kind: KindBusinessRule, Message: msg, Err: sentinel}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage retourne le message destiné au client, jamais la cause interne.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Erreur interne"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	case KindIntegrity:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
