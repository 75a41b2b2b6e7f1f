package domain

// QueueJob is the wire form described in spec §3 — the queue, not the
// core, owns its durable copy until ack.
type QueueJob struct {
	MessageID      string      `json:"messageId"`
	UserID         string      `json:"userId"`
	MessageType    MessageType `json:"messageType"`
	RetryCount     int         `json:"retryCount"`
	IdempotencyKey string      `json:"idempotencyKey"`

	// OriginQueue and header-equivalents carried for DLQ forensics, per
	// spec §4.6 "Headers carry retry count and original queue name".
	OriginQueue string `json:"originQueue"`
}
