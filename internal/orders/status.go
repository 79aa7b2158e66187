package orders

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusShipped   Status = "Shipped"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

var known = map[Status]bool{
	StatusPending:   true,
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCancelled: true,
}

// ParseStatus accepts the four order statuses. Any of them may replace any other.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !known[st] {
		return "", apperr.Validation("status", fmt.Sprintf("must be one of [%s]", strings.Join(statusNames(), " ")))
	}
	return st, nil
}

func statusNames() []string {
	return []string{string(StatusPending), string(StatusShipped), string(StatusDelivered), string(StatusCancelled)}
}
