package types

// ============================================
// 事件系统
// ============================================

type EventType string

const (
	EventBlockDecided  EventType = "block.decided"
	EventBlockProposed EventType = "block.proposed"
	EventQCFormed      EventType = "qc.formed"
	EventViewChanged   EventType = "view.changed"
	EventViewTimeout   EventType = "view.timeout"
	EventEvidence      EventType = "slashing.evidence"
	EventEpochChanged  EventType = "epoch.changed"
)

type BaseEvent struct {
	EventType EventType
	EventData interface{}
}

func (e BaseEvent) Type() EventType   { return e.EventType }
func (e BaseEvent) Data() interface{} { return e.EventData }

// BlockDecidedData block.decided 事件负载
type BlockDecidedData struct {
	Block     *Block
	Receipts  []*Receipt
	StateRoot Hash
}
