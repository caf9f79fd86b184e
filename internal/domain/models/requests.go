package models

// Requests for the session HTTP endpoints. Defined in domain for reuse by the Kafka handler.

type CreateSessionRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type BlockRequest struct {
	Index     *int    `json:"index" validate:"required,gte=0"`
	Direction string  `json:"direction" validate:"required"`
	Magnitude float64 `json:"magnitude" validate:"gte=0,lte=100"`
}

// Block converts the request, rejecting unknown directions.
func (r BlockRequest) Block() (Block, error) {
	if r.Index == nil {
		return Block{}, &InvalidBlockError{Reason: "missing index"}
	}
	dir, err := ParseDirection(r.Direction)
	if err != nil {
		return Block{}, &InvalidBlockError{Index: *r.Index, Reason: err.Error()}
	}
	b := Block{Index: *r.Index, Direction: dir, Magnitude: r.Magnitude}
	return b, b.Validate()
}

type CanTradeRequest struct {
	Pattern    string  `query:"pattern" json:"pattern" validate:"required"`
	Confidence float64 `query:"confidence" json:"confidence" validate:"gte=0,lte=100"`
}

// BlockMessage is the Kafka wire form of a block.
type BlockMessage struct {
	SessionID string  `json:"session_id" validate:"required,max=128"`
	Index     *int    `json:"index" validate:"required,gte=0"`
	Direction string  `json:"direction" validate:"required"`
	Magnitude float64 `json:"magnitude"`
}

func (m BlockMessage) Block() (Block, error) {
	return BlockRequest{Index: m.Index, Direction: m.Direction, Magnitude: m.Magnitude}.Block()
}
