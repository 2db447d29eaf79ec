package events

const (
	TopicSubOrders   = "market.suborder.transitioned"
	TopicLedger      = "market.ledger.posted"
	TopicKenz        = "market.kenz"
	TopicSettlements = "market.settlement"
)

// Partition key = entity id so every event of one entity keeps its order.
func PartitionKey(id string) []byte { return []byte(id) }
