package enums

// DialogState is the per-subscriber conversational state machine.
// The only non-idle state is "the next text message is a promocode".
type DialogState string

const (
	DialogIdle              DialogState = "idle"
	DialogAwaitingPromocode DialogState = "awaiting_promocode"
)
