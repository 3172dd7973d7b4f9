package domain

import "strings"

// Role is one of the three fixed signing parties on a delivery. The set is
// closed: every delivery carries exactly one signature slot per role.
type Role string

const (
	RoleSender    Role = "sender"
	RoleCourier   Role = "courier"
	RoleRecipient Role = "recipient"
)

// RoleSpec drives per-role behavior: whether the role's signature is required
// by default, the bilingual label stamped above the signature mark, and the
// fixed canvas position of the mark on the working document.
type RoleSpec struct {
	Required bool
	Label    string

	// Anchor is a page anchor (pdfcpu notation: bl, bc, br, ...) with a
	// point offset from it.
	Anchor  string
	OffsetX int
	OffsetY int
}

var roleSpecs = map[Role]RoleSpec{
	RoleSender:    {Required: true, Label: "Remitente / Sender", Anchor: "bl", OffsetX: 40, OffsetY: 90},
	RoleCourier:   {Required: true, Label: "Mensajero / Courier", Anchor: "bc", OffsetX: 0, OffsetY: 90},
	RoleRecipient: {Required: true, Label: "Destinatario / Recipient", Anchor: "br", OffsetX: -40, OffsetY: 90},
}

// Roles returns the three roles in their fixed canonical order. Overlay
// rendering and status recomputation iterate in this order so results do not
// depend on signing order.
func Roles() []Role {
	return []Role{RoleSender, RoleCourier, RoleRecipient}
}

func (r Role) Valid() bool {
	_, ok := roleSpecs[r]
	return ok
}

func (r Role) Spec() RoleSpec {
	return roleSpecs[r]
}

// ParseRole maps an inbound role string onto the closed enum. Unknown values
// return ErrUnknownRole before any state is touched.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}
