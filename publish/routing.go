// Package publish serializes order, trade, sub-trade, balance, position, and
// order-book-delta events to the downstream bus per §4.7.
package publish

// Kind identifies the type of entity event being published.
type Kind int

const (
	KindUpdateOrder Kind = iota
	KindTrade
	KindSubTrade
	KindBalance
	KindPosition
	KindOrderBook
)

// Queue names the logical queue an event is produced to, mirroring the
// source's QueueName enum (match engine queue vs. downstream publish queue).
type Queue string

const (
	QueueMatchEngine Queue = "match_engine"
	QueuePublish     Queue = "publish"
)

// route is one routing-table entry: which queue(s) an event kind fans out to
// and how its partition key is derived.
type route struct {
	queues []Queue
	topic  func(symbol, account string) string
	key    func(symbol, account string) string
}

// routingTable is the table-driven fan-out of §4.7, replacing the source's
// if/else chain per §9.
var routingTable = map[Kind]route{
	KindUpdateOrder: {
		queues: []Queue{QueuePublish},
		topic:  func(string, string) string { return "OrderUpdate" },
		key:    func(symbol, account string) string { return account },
	},
	KindTrade: {
		queues: []Queue{QueuePublish},
		topic:  func(string, string) string { return "trade" },
		key:    func(symbol, account string) string { return symbol + ":trade" },
	},
	KindSubTrade: {
		queues: []Queue{QueuePublish},
		topic:  func(string, string) string { return "accountTrade" },
		key:    func(symbol, account string) string { return account },
	},
	KindBalance: {
		queues: []Queue{QueuePublish},
		topic:  func(string, string) string { return "balance" },
		key:    func(symbol, account string) string { return account },
	},
	KindPosition: {
		queues: []Queue{QueuePublish},
		topic:  func(string, string) string { return "position" },
		key:    func(symbol, account string) string { return account },
	},
	KindOrderBook: {
		queues: []Queue{QueuePublish},
		topic:  func(symbol, account string) string { return symbol + ":orderBook" },
		key:    func(symbol, account string) string { return symbol + ":orderBook" },
	},
}
