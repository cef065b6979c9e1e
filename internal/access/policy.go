package access

import (
	"fmt"

	"github.com/your-org/passgate/internal/apperr"
)

// Role is the operator class of an authenticated caller.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCheckpoint Role = "checkpoint"
	RoleMember     Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCheckpoint, RoleMember:
		return true
	}
	return false
}

// ParseRole maps a claim value to a Role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", apperr.Newf(apperr.ErrUnauthenticated, "unknown role %q", s)
	}
	return r, nil
}

// Capability is a single permission checked before an operation runs.
type Capability string

const (
	CapIssue             Capability = "issue"
	CapRevoke            Capability = "revoke"
	CapDeleteAccount     Capability = "deleteAccount"
	CapListAllPeople     Capability = "listAllPeople"
	CapManageEvents      Capability = "manageEvents"
	CapVerifyToken       Capability = "verifyToken"
	CapVerifyBiometric   Capability = "verifyBiometric"
	CapSuspend           Capability = "suspend"
	CapResolveComplaint  Capability = "resolveComplaint"
	CapDeleteComplaint   Capability = "deleteComplaint"
	CapFileComplaint     Capability = "fileComplaint"
	CapViewOwnComplaints Capability = "viewOwnComplaints"
	CapViewAllComplaints Capability = "viewAllComplaints"
	CapViewOwnCredential Capability = "viewOwnCredentials"
	CapManageOwnProfile  Capability = "manageOwnProfile"
	CapViewAccessLog     Capability = "viewAccessLog"
)

// Actor is the authenticated caller: a subject (username) and its role.
type Actor struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

func (a Actor) String() string {
	return fmt.Sprintf("%s(%s)", a.Subject, a.Role)
}

var selfService = []Capability{
	CapFileComplaint,
	CapViewOwnComplaints,
	CapViewOwnCredential,
	CapManageOwnProfile,
}

var checkpoint = []Capability{
	CapVerifyToken,
	CapVerifyBiometric,
}

var administration = []Capability{
	CapIssue,
	CapRevoke,
	CapDeleteAccount,
	CapListAllPeople,
	CapManageEvents,
	CapSuspend,
	CapResolveComplaint,
	CapDeleteComplaint,
	CapViewAllComplaints,
	CapViewAccessLog,
}

// Policy is the capability table per role.
type Policy struct {
	grants map[Role]map[Capability]bool
}

// DefaultPolicy returns the standard table: members get self-service,
// checkpoint staff add verification, admins get everything.
func DefaultPolicy() *Policy {
	p := &Policy{grants: make(map[Role]map[Capability]bool)}
	p.grant(RoleMember, selfService...)
	p.grant(RoleCheckpoint, selfService...)
	p.grant(RoleCheckpoint, checkpoint...)
	p.grant(RoleAdmin, selfService...)
	p.grant(RoleAdmin, checkpoint...)
	p.grant(RoleAdmin, administration...)
	return p
}

func (p *Policy) grant(r Role, caps ...Capability) {
	set, ok := p.grants[r]
	if !ok {
		set = make(map[Capability]bool)
		p.grants[r] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

// Allows reports whether the role holds the capability.
func (p *Policy) Allows(r Role, c Capability) bool {
	return p.grants[r][c]
}

// Require returns ErrUnauthenticated for an anonymous actor and ErrForbidden
// when the actor's role lacks the capability.
func (p *Policy) Require(a Actor, c Capability) error {
	if a.Subject == "" || !a.Role.Valid() {
		return apperr.New(apperr.ErrUnauthenticated, "authentication required")
	}
	if !p.Allows(a.Role, c) {
		return apperr.Newf(apperr.ErrForbidden, "role %s may not %s", a.Role, c)
	}
	return nil
}
