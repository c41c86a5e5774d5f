// Package queue derives a customer's place in line from the PAID orders.
package queue

import (
	"sort"

	"booth-pos/models"
)

// Position returns the 1-based place of id among PAID orders with a queue
// number, sorted by that number, and the size of that line. position is 0
// when the order is not queued.
func Position(orders []models.Order, id string) (position, total int) {
	line := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == models.StatusPaid && o.QueueNumber != nil {
			line = append(line, o)
		}
	}
	sort.SliceStable(line, func(i, j int) bool {
		return *line[i].QueueNumber < *line[j].QueueNumber
	})
	for i, o := range line {
		if o.ID == id {
			return i + 1, len(line)
		}
	}
	return 0, len(line)
}
