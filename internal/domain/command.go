package domain

// Command is an instruction extracted from a reply message or issued by the
// operator console, targeting an existing signal.
type Command struct {
	Kind     CommandKind
	SignalID int64 // resolved by the engine from ReplyTo when zero
	// Edit payload; zero values mean "keep current".
	StopLoss    float64
	TakeProfits []float64
	Source      MessageRef
	ReplyTo     int64 // message id of the replied-to signal message
}

// Message is a raw record delivered by a message source.
type Message struct {
	ChannelID        int64
	MessageID        int64
	ReplyToMessageID int64 // zero when not a reply
	Text             string
	Edited           bool
	Deleted          bool
}

// Ref returns the idempotency reference for the message.
func (m Message) Ref() MessageRef {
	return MessageRef{ChannelID: m.ChannelID, MessageID: m.MessageID}
}
