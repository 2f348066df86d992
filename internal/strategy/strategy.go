// Package strategy decides which notification classes may be sent right now
// given the remaining daily quota. It is a pure function over an ordered
// threshold ladder: no side effects, no I/O.
package strategy

import "github.com/tidepress/mail-dispatch/internal/domain"

// Name labels the chosen admission tier.
type Name string

const (
	SendAll             Name = "send_all"
	UserAndPrimaryAdmin Name = "user_and_primary_admin"
	UserOnly            Name = "user_only"
	QueueAll            Name = "queue_all"
)

func (n Name) String() string { return string(n) }

// Decision says, per message class, whether an immediate send is permitted.
// Classes not permitted are deferred to the durable queue, never dropped.
type Decision struct {
	UserConfirmation bool
	AdminPrimary     bool
	AdminSecondary   bool
	Remaining        int
	Strategy         Name
}

// Allows reports whether the decision permits an immediate send for the class.
func (d Decision) Allows(class domain.MessageClass) bool {
	switch class {
	case domain.ClassUserConfirmation:
		return d.UserConfirmation
	case domain.ClassAdminPrimary:
		return d.AdminPrimary
	case domain.ClassAdminSecondary:
		return d.AdminSecondary
	}
	return false
}

// The ladder is ordered by minRemaining descending; the first row whose
// threshold the remaining quota meets wins. The submitter's confirmation is
// always the last class to be deferred: it is the only signal the submitter
// gets that their action was recorded.
var ladder = []struct {
	minRemaining     int
	userConfirmation bool
	adminPrimary     bool
	adminSecondary   bool
	name             Name
}{
	{minRemaining: 3, userConfirmation: true, adminPrimary: true, adminSecondary: true, name: SendAll},
	{minRemaining: 2, userConfirmation: true, adminPrimary: true, adminSecondary: false, name: UserAndPrimaryAdmin},
	{minRemaining: 1, userConfirmation: true, adminPrimary: false, adminSecondary: false, name: UserOnly},
}

// Decide maps the remaining quota onto a send/defer decision.
func Decide(remaining int) Decision {
	for _, tier := range ladder {
		if remaining >= tier.minRemaining {
			return Decision{
				UserConfirmation: tier.userConfirmation,
				AdminPrimary:     tier.adminPrimary,
				AdminSecondary:   tier.adminSecondary,
				Remaining:        remaining,
				Strategy:         tier.name,
			}
		}
	}

	return Decision{Remaining: remaining, Strategy: QueueAll}
}
