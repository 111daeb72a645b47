// Package authz decides whether an actor may act on a protected resource.
//
// Every function here is pure: it reads only its arguments, never touches
// storage and never logs. Callers fetch ownership from storage, ask for a
// decision, and only then perform the mutation.
package authz

import (
	"errors"

	"github.com/bissquit/recipe-garden/internal/domain"
)

// Decision errors returned by the Authorize helpers.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is a verified actor decoded from a credential. A nil *Identity
// means no valid credential was presented.
type Identity struct {
	ActorID int64
	Role    domain.Role
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == domain.RoleAdmin
}

// OwnedResource is the ownership of a protected entity. OwnerID is nil for
// unowned resources.
type OwnedResource struct {
	OwnerID *int64
}

// Owned returns the ownership of a resource owned by ownerID.
func Owned(ownerID int64) OwnedResource {
	return OwnedResource{OwnerID: &ownerID}
}

// Unowned returns the ownership of a resource without an owner.
func Unowned() OwnedResource {
	return OwnedResource{}
}

// IsOwned reports whether the resource has an owner.
func (r OwnedResource) IsOwned() bool {
	return r.OwnerID != nil
}

// CanActOnResource reports whether identity may mutate a resource with the
// given ownership. Admins may act on anything. Owners may act on their own
// resources. Unowned resources are admin-only, even for actors that own
// other resources.
//
// Steps and ingredients have no owner of their own: pass the ownership of the
// parent recipe.
func CanActOnResource(identity *Identity, resource OwnedResource) bool {
	if identity == nil {
		return false
	}
	if identity.Role == domain.RoleAdmin {
		return true
	}
	if resource.OwnerID == nil {
		return false
	}
	return identity.ActorID == *resource.OwnerID
}

// CanActOnSelf reports whether identity may view or modify the user record
// targetUserID.
func CanActOnSelf(identity *Identity, targetUserID int64) bool {
	if identity == nil {
		return false
	}
	return identity.Role == domain.RoleAdmin || identity.ActorID == targetUserID
}

// AuthorizeResource is CanActOnResource expressed as an error:
// ErrUnauthenticated for an absent identity, ErrForbidden for an
// insufficient one.
func AuthorizeResource(identity *Identity, resource OwnedResource) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !CanActOnResource(identity, resource) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeSelf is CanActOnSelf expressed as an error.
func AuthorizeSelf(identity *Identity, targetUserID int64) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !CanActOnSelf(identity, targetUserID) {
		return ErrForbidden
	}
	return nil
}
