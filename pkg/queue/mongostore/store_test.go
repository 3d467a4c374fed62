package mongostore

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestFilters(t *testing.T) {
	if got, want := laneFilter("StatusChecking"), (bson.D{{Key: "queue_name", Value: "StatusChecking"}}); !reflect.DeepEqual(got, want) {
		t.Fatalf("laneFilter() = %v, want %v", got, want)
	}
	want := bson.D{{Key: "_id", Value: int64(4)}, {Key: "queue_name", Value: "Default"}}
	if got := itemFilter("Default", 4); !reflect.DeepEqual(got, want) {
		t.Fatalf("itemFilter() = %v, want %v", got, want)
	}
}

func TestItemDocRoundTrip(t *testing.T) {
	reserved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	doc := itemDoc{
		ID:              9,
		QueueName:       "Default",
		Payload:         []byte(`{"name":"noop"}`),
		Attempts:        2,
		ReservationTime: utc(&reserved),
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded itemDoc
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	item := decoded.item()
	if item.ID != 9 || item.Attempts != 2 || string(item.Payload) != `{"name":"noop"}` {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.ReservationTime == nil || !item.ReservationTime.Equal(reserved) || item.ReservationTime.Location() != time.UTC {
		t.Fatalf("expected reservation time %s in UTC, got %v", reserved, item.ReservationTime)
	}
}

func TestItemDoc_NoReservation(t *testing.T) {
	raw, err := bson.Marshal(itemDoc{ID: 1, QueueName: "Default"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded itemDoc
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.item().ReservationTime != nil {
		t.Fatal("expected no reservation time")
	}
}
