package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewEntry(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	data := map[string]any{"from": "Pending", "to": "Confirmed"}

	got := newEntry("order.status_changed", 42, data, at)

	want := &Entry{
		Service:   "checkout-service",
		Action:    "order.status_changed",
		EntityID:  "42",
		Data:      bson.M{"from": "Pending", "to": "Confirmed"},
		CreatedAt: at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	data["from"] = "changed"
	assert.Equal(t, "Pending", got.Data["from"], "entry must not alias the caller's map")
}

func TestNewEntry_NilData(t *testing.T) {
	got := newEntry("order.reconciled", 1, nil, time.Time{})

	assert.NotNil(t, got.Data)
	assert.Empty(t, got.Data)
}

func TestLogRecorder(t *testing.T) {
	err := LogRecorder{}.Record(context.Background(), "order.reconciled", 7, map[string]any{"session_id": "cs_1"})

	assert.NoError(t, err)
}
