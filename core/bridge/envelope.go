package bridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

// Envelope is what travels on the channel.
type Envelope struct {
	Sequence    uint64          `json:"sequence"`
	Ticket      string          `json:"ticket"`
	Instruction MintInstruction `json:"instruction"`
	FeePaid     uint64          `json:"feePaid"`
	SentAt      uint64          `json:"sentAt"`
}

// envelopeWire nests the instruction in its canonical encoding so the
// receiver decodes exactly the bytes the ticket was derived from.
type envelopeWire struct {
	Sequence    uint64
	Ticket      string
	Instruction []byte
	FeePaid     uint64
	SentAt      uint64
}

// Check validates the instruction and confirms the ticket matches it.
func (e Envelope) Check() error {
	if err := e.Instruction.Validate(); err != nil {
		return err
	}
	parsed, err := uuid.Parse(e.Ticket)
	if err != nil {
		return rejected("ticket: %v", err)
	}
	want, err := e.Instruction.Ticket()
	if err != nil {
		return err
	}
	if parsed != want {
		return rejected("ticket does not match instruction")
	}
	return nil
}

// Encode returns the RLP wire form carried by the channel and the inbox.
func (e Envelope) Encode() ([]byte, error) {
	instruction, err := e.Instruction.Encode()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&envelopeWire{
		Sequence:    e.Sequence,
		Ticket:      e.Ticket,
		Instruction: instruction,
		FeePaid:     e.FeePaid,
		SentAt:      e.SentAt,
	})
}

// DecodeEnvelope parses the output of Encode. Malformed input is
// ErrChannelRejected.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var wire envelopeWire
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return Envelope{}, rejected("envelope: %v", err)
	}
	instruction, err := DecodeInstruction(wire.Instruction)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s: %w", wire.Ticket, err)
	}
	return Envelope{
		Sequence:    wire.Sequence,
		Ticket:      wire.Ticket,
		Instruction: instruction,
		FeePaid:     wire.FeePaid,
		SentAt:      wire.SentAt,
	}, nil
}

func (e Envelope) MarshalBinary() ([]byte, error) { return e.Encode() }

func (e *Envelope) UnmarshalBinary(data []byte) error {
	decoded, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}
