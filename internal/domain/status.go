package domain

type OrderStatus string

const (
	StatusNew        OrderStatus = "new"
	StatusProcessing OrderStatus = "processing"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefused    OrderStatus = "refused"
	StatusArchived   OrderStatus = "archived"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusNew:        {StatusProcessing, StatusCancelled, StatusRefused, StatusArchived},
	StatusProcessing: {StatusDelivering, StatusCancelled, StatusRefused, StatusArchived},
	StatusDelivering: {StatusDelivered},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
	StatusRefused:    nil,
	StatusArchived:   nil,
}

func ParseStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	_, ok := transitions[st]
	return st, ok
}

func (s OrderStatus) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Fulfilment reports whether s is on the happy path past acceptance.
func (s OrderStatus) Fulfilment() bool {
	switch s {
	case StatusProcessing, StatusDelivering, StatusDelivered:
		return true
	}
	return false
}
