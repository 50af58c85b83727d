package order

import (
	"fmt"
	"strings"

	"github.com/ksred/booking-api/internal/apperr"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCancelled  Status = "CANCELLED"
	StatusCompleted  Status = "COMPLETED"
)

// transitions is the complete lifecycle table. A state missing from a row
// cannot be reached from that row's state.
var transitions = map[Status]map[Status]struct{}{
	StatusPending:    {StatusPaid: {}, StatusCancelled: {}},
	StatusPaid:       {StatusConfirmed: {}, StatusCancelled: {}},
	StatusConfirmed:  {StatusInProgress: {}, StatusCancelled: {}},
	StatusInProgress: {StatusCompleted: {}, StatusCancelled: {}},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// Statuses lists every lifecycle state in table order.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusPaid,
		StatusConfirmed,
		StatusInProgress,
		StatusCancelled,
		StatusCompleted,
	}
}

// ParseStatus validates a client-supplied status filter.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[status]; !ok {
		return "", apperr.InvalidInput(apperr.CodeInvalidStatus, fmt.Sprintf("invalid order status: %s", s))
	}
	return status, nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the table admits s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	next, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidateTransition is the single check every status change goes through.
func ValidateTransition(from, to Status) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return apperr.InvalidTransition(fmt.Sprintf("cannot transition from %s to %s", from, to))
}

// ValidateForOperation runs ValidateTransition and phrases the failure in terms
// of the operation the caller attempted. The error code is unchanged.
func ValidateForOperation(from, to Status, operation string) error {
	if err := ValidateTransition(from, to); err != nil {
		return apperr.InvalidTransition(fmt.Sprintf("cannot %s order: current status is %s", operation, from))
	}
	return nil
}
