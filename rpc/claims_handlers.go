package rpc

import (
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"claimbridge/core/attest"
	"claimbridge/native/claims"
	"claimbridge/native/dispatch"
)

type submitClaimResult struct {
	Ticket    string         `json:"ticket"`
	Nullifier ethcommon.Hash `json:"nullifier"`
}

type addTierParams struct {
	Index     uint8   `json:"index"`
	Principal uint64  `json:"principal"`
	Term      string  `json:"term"`
	Amount    *uint64 `json:"amount,omitempty"`
	RateBps   *uint64 `json:"rateBps,omitempty"`
}

type addTierResult struct {
	Index  uint8  `json:"index"`
	Amount uint64 `json:"amount"`
}

// handleClaimSubmit takes [attestation, proof, fee?]. The proof is checked by
// the configured oracle and only its verdict reaches the verifier.
func (s *Server) handleClaimSubmit(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 2, 3); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeAttestor)
	if err != nil {
		return nil, err
	}
	var att attest.Attestation
	if err := decodeParam(req, 0, &att, "attestation"); err != nil {
		return nil, err
	}
	var proofHex string
	if err := decodeParam(req, 1, &proofHex, "proof"); err != nil {
		return nil, err
	}
	proof, decodeErr := hexutil.Decode(proofHex)
	if decodeErr != nil {
		return nil, invalidParams("proof must be 0x-prefixed hex", decodeErr.Error())
	}
	var fee dispatch.FeePayment
	if len(req.Params) > 2 {
		if err := decodeParam(req, 2, &fee, "fee"); err != nil {
			return nil, err
		}
	}
	ticket, err := s.verifier.Claim(caller, att, s.oracle.Verify(att, proof), fee)
	if err != nil {
		return nil, err
	}
	return submitClaimResult{Ticket: ticket.String(), Nullifier: att.Nullifier}, nil
}

// handleIsNullifierUsed takes [nullifier, detail?]. With detail the reply
// carries the time the nullifier was spent.
func (s *Server) handleIsNullifierUsed(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 1, 2); err != nil {
		return nil, err
	}
	var nullifier ethcommon.Hash
	if err := decodeParam(req, 0, &nullifier, "nullifier"); err != nil {
		return nil, err
	}
	detail, err := optionalBool(req, 1, "detail")
	if err != nil {
		return nil, err
	}
	if !detail {
		return s.verifier.IsNullifierUsed(nullifier)
	}
	at, used, err := s.verifier.NullifierSpentAt(nullifier)
	if err != nil {
		return nil, err
	}
	return markResult{Used: used, MarkedAt: at}, nil
}

// handleGetTierInfo takes [tier, legacy?].
func (s *Server) handleGetTierInfo(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 1, 2); err != nil {
		return nil, err
	}
	var tier uint8
	if err := decodeParam(req, 0, &tier, "tier"); err != nil {
		return nil, err
	}
	legacy, err := optionalBool(req, 1, "legacy")
	if err != nil {
		return nil, err
	}
	return s.verifier.TierInfo(tier, legacy)
}

func (s *Server) handleGetMaxTierIndex(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	return s.verifier.MaxTierIndex()
}

type claimsStatsResult struct {
	claims.Stats
	ActiveEdition uint64          `json:"activeEdition"`
	Outbox        *dispatch.Stats `json:"outbox,omitempty"`
	// PayerFees is the fee total charged to the address passed as params[0].
	PayerFees *uint64 `json:"payerFees,omitempty"`
}

// markResult is the detailed form of the replay-guard queries.
type markResult struct {
	Used     bool   `json:"used"`
	MarkedAt uint64 `json:"markedAt,omitempty"`
}

// handleClaimsStats takes [payer?].
func (s *Server) handleClaimsStats(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 0, 1); err != nil {
		return nil, err
	}
	stats, err := s.verifier.Stats()
	if err != nil {
		return nil, err
	}
	edition, err := s.verifier.ActiveEdition()
	if err != nil {
		return nil, err
	}
	result := claimsStatsResult{Stats: stats, ActiveEdition: edition}
	if s.dispatcher != nil {
		outbox, err := s.dispatcher.Stats()
		if err != nil {
			return nil, err
		}
		result.Outbox = &outbox
		if len(req.Params) == 1 {
			var payer ethcommon.Address
			if err := decodeParam(req, 0, &payer, "payer"); err != nil {
				return nil, err
			}
			paid, err := s.dispatcher.FeesPaidBy(payer)
			if err != nil {
				return nil, err
			}
			result.PayerFees = &paid
		}
	}
	return result, nil
}

// handleAddTier appends one tier. Exactly one of amount or rateBps must be
// set; a rate is quoted against the tier's principal and term.
func (s *Server) handleAddTier(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeGovernance)
	if err != nil {
		return nil, err
	}
	var params addTierParams
	if err := decodeParam(req, 0, &params, "tier"); err != nil {
		return nil, err
	}
	term, err := claims.ParseTermClass(params.Term)
	if err != nil {
		return nil, err
	}
	switch {
	case params.Amount != nil && params.RateBps != nil:
		return nil, invalidParams("amount and rateBps are mutually exclusive", nil)
	case params.Amount != nil:
		if err := s.verifier.AddTier(caller, params.Index, params.Principal, term, *params.Amount); err != nil {
			return nil, err
		}
		return addTierResult{Index: params.Index, Amount: *params.Amount}, nil
	case params.RateBps != nil:
		amount, err := s.verifier.AddTierAtRate(caller, params.Index, params.Principal, term, claims.FixedRate(*params.RateBps))
		if err != nil {
			return nil, err
		}
		return addTierResult{Index: params.Index, Amount: amount}, nil
	default:
		return nil, invalidParams("amount or rateBps required", nil)
	}
}

func (s *Server) handleSetActiveEdition(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.verifier == nil {
		return nil, unavailable("verification domain")
	}
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeGovernance)
	if err != nil {
		return nil, err
	}
	var edition uint64
	if err := decodeParam(req, 0, &edition, "editionId"); err != nil {
		return nil, err
	}
	if err := s.verifier.SetActiveEdition(caller, edition); err != nil {
		return nil, err
	}
	return edition, nil
}
