package orders

type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusUnderReview         Status = "under_review"
	StatusPreparing           Status = "preparing"
	StatusOutForDelivery      Status = "out_for_delivery"
	StatusDelivered           Status = "delivered"
	StatusCancelled           Status = "cancelled"
	StatusReturned            Status = "returned"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingConfirmation: {StatusUnderReview: true, StatusPreparing: true, StatusCancelled: true},
	StatusUnderReview:         {StatusPreparing: true},
	StatusPreparing:           {StatusOutForDelivery: true, StatusCancelled: true},
	StatusOutForDelivery:      {StatusDelivered: true, StatusReturned: true},
	StatusDelivered:           {StatusReturned: true},
	StatusCancelled:           {},
	StatusReturned:            {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// progress orders the forward path; returned counts as fully progressed.
var progress = map[Status]int{
	StatusPendingConfirmation: 0,
	StatusUnderReview:         1,
	StatusPreparing:           2,
	StatusOutForDelivery:      3,
	StatusDelivered:           4,
	StatusReturned:            4,
}

// Aggregate derives an order's status from its sub-orders: cancelled when all
// are cancelled, delivered when every live one is delivered or returned,
// otherwise the least advanced status every live sub-order has reached.
func Aggregate(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusPendingConfirmation
	}
	var (
		least Status
		live  int
	)
	for _, s := range statuses {
		if s == StatusCancelled {
			continue
		}
		live++
		if least == "" || progress[s] < progress[least] {
			least = s
		}
	}
	switch {
	case live == 0:
		return StatusCancelled
	case progress[least] == progress[StatusDelivered]:
		return StatusDelivered
	default:
		return least
	}
}
