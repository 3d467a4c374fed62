package queue

import "time"

const (
	// DefaultQueueName is used when a caller does not name a lane.
	DefaultQueueName = "Default"
	// LeaseExpiry is how long a reservation blocks other reservers.
	// An item reserved longer ago than this is treated as abandoned.
	LeaseExpiry = 3600 * time.Second
)

// Item is the persisted unit of work.
type Item struct {
	// ID is assigned by storage on first save; 0 means not yet persisted.
	ID              int64
	QueueName       string
	Payload         []byte
	Attempts        int
	ReservationTime *time.Time
}

// IsReserved reports whether the item is under an unexpired lease at now.
func (i *Item) IsReserved(now time.Time, leaseExpiry time.Duration) bool {
	if i == nil || i.ReservationTime == nil {
		return false
	}
	return now.Before(i.ReservationTime.Add(leaseExpiry))
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.Payload != nil {
		out.Payload = append([]byte(nil), i.Payload...)
	}
	if i.ReservationTime != nil {
		reserved := *i.ReservationTime
		out.ReservationTime = &reserved
	}
	return &out
}
