package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"booth-pos/models"
)

func paid(id string, n int) models.Order {
	return models.Order{ID: id, Status: models.StatusPaid, QueueNumber: &n}
}

func TestPositionSortsByQueueNumber(t *testing.T) {
	orders := []models.Order{paid("1401003", 3), paid("1401001", 1), paid("1401002", 2)}

	pos, total := Position(orders, "1401002")
	assert.Equal(t, 2, pos)
	assert.Equal(t, 3, total)

	pos, _ = Position(orders, "1401003")
	assert.Equal(t, 3, pos)
}

func TestPositionIgnoresOrdersOutOfLine(t *testing.T) {
	orders := []models.Order{
		paid("1401002", 2),
		{ID: "1401001", Status: models.StatusCompleted},
		{ID: "1401004", Status: models.StatusPaid},
		{ID: "1401005", Status: models.StatusPendingPayment},
	}

	pos, total := Position(orders, "1401002")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, total)

	pos, total = Position(orders, "1401001")
	assert.Zero(t, pos)
	assert.Equal(t, 1, total)

	pos, total = Position(nil, "1401001")
	assert.Zero(t, pos)
	assert.Zero(t, total)
}
