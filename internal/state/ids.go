package state

import "fmt"

// StableID is the persistent identity of a resource, independent of any live backend handle.
type StableID uint32

// WorldAnchor is the sentinel id meaning "anchored to the world" in constraints and "no body" elsewhere.
const WorldAnchor StableID = 0

// Handle is an opaque backend-issued reference to a live resource.
type Handle uint64

// Kind separates the id spaces of the resource families.
type Kind uint8

const (
	KindBody Kind = iota + 1
	KindConstraint
	KindVehicle
	KindCharacter
	KindRagdoll
)

// Kinds lists every resource family in canonical order.
var Kinds = []Kind{KindBody, KindConstraint, KindVehicle, KindCharacter, KindRagdoll}

// String renders the kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindBody:
		return "body"
	case KindConstraint:
		return "constraint"
	case KindVehicle:
		return "vehicle"
	case KindCharacter:
		return "character"
	case KindRagdoll:
		return "ragdoll"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
