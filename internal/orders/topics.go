package orders

const (
	TopicOrderCreated       = "orders.created"
	TopicOrderStatusChanged = "orders.status_changed"
)

// TopicFor maps an event type to its topic. Unknown types return "".
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	}
	return ""
}

// Partition key = order id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
