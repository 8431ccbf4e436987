package rpc

import (
	"fmt"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"claimbridge/core/bridge"
	"claimbridge/native/settlement"
)

type editionView struct {
	*settlement.Edition
	Remaining *uint256.Int `json:"remaining"`
}

type createEditionParams struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	MaxSupply string `json:"maxSupply"`
	Active    bool   `json:"active"`
}

type applyMintResult struct {
	Commitment ethcommon.Hash `json:"commitment"`
	Applied    bool           `json:"applied"`
}

// handleApplyMint is the direct mint path for yield minters. Channel
// deliveries never come through here.
func (s *Server) handleApplyMint(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeMinter)
	if err != nil {
		return nil, err
	}
	var m bridge.MintInstruction
	if err := decodeParam(req, 0, &m, "instruction"); err != nil {
		return nil, err
	}
	if err := s.ledger.ApplyMint(m, caller); err != nil {
		return nil, err
	}
	return applyMintResult{Commitment: m.Commitment, Applied: true}, nil
}

func (s *Server) handleIsCommitmentApplied(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 1, 2); err != nil {
		return nil, err
	}
	var commitment ethcommon.Hash
	if err := decodeParam(req, 0, &commitment, "commitment"); err != nil {
		return nil, err
	}
	detail, err := optionalBool(req, 1, "detail")
	if err != nil {
		return nil, err
	}
	if !detail {
		return s.ledger.IsCommitmentApplied(commitment)
	}
	at, applied, err := s.ledger.CommitmentAppliedAt(commitment)
	if err != nil {
		return nil, err
	}
	return markResult{Used: applied, MarkedAt: at}, nil
}

// handleEditionStatus takes [id] or no params, which lists every edition.
func (s *Server) handleEditionStatus(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 0, 1); err != nil {
		return nil, err
	}
	if len(req.Params) == 0 {
		editions, err := s.ledger.Editions()
		if err != nil {
			return nil, err
		}
		views := make([]editionView, 0, len(editions))
		for _, e := range editions {
			views = append(views, editionView{Edition: e, Remaining: e.Remaining()})
		}
		return views, nil
	}
	var id uint64
	if err := decodeParam(req, 0, &id, "editionId"); err != nil {
		return nil, err
	}
	edition, err := s.ledger.EditionStatus(id)
	if err != nil {
		return nil, err
	}
	return editionView{Edition: edition, Remaining: edition.Remaining()}, nil
}

func (s *Server) handleGetHolder(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	var raw string
	if err := decodeParam(req, 0, &raw, "address"); err != nil {
		return nil, err
	}
	if !ethcommon.IsHexAddress(raw) {
		return nil, invalidParams("address must be hex", raw)
	}
	return s.ledger.Holder(ethcommon.HexToAddress(raw))
}

func (s *Server) handleSettlementStats(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	return s.ledger.Stats()
}

func (s *Server) handleCreateEdition(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeGovernance)
	if err != nil {
		return nil, err
	}
	var params createEditionParams
	if err := decodeParam(req, 0, &params, "edition"); err != nil {
		return nil, err
	}
	maxSupply, parseErr := uint256.FromDecimal(params.MaxSupply)
	if parseErr != nil {
		return nil, invalidParams(fmt.Sprintf("invalid maxSupply %q", params.MaxSupply), parseErr.Error())
	}
	if err := s.ledger.CreateEdition(caller, params.ID, params.Name, maxSupply, params.Active); err != nil {
		return nil, err
	}
	edition, err := s.ledger.EditionStatus(params.ID)
	if err != nil {
		return nil, err
	}
	return editionView{Edition: edition, Remaining: edition.Remaining()}, nil
}

// handleSetEditionActive takes [id, active].
func (s *Server) handleSetEditionActive(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.ledger == nil {
		return nil, unavailable("settlement domain")
	}
	if err := expectParams(req, 2, 2); err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeGovernance)
	if err != nil {
		return nil, err
	}
	var id uint64
	if err := decodeParam(req, 0, &id, "editionId"); err != nil {
		return nil, err
	}
	var active bool
	if err := decodeParam(req, 1, &active, "active"); err != nil {
		return nil, err
	}
	if err := s.ledger.SetEditionActive(caller, id, active); err != nil {
		return nil, err
	}
	return active, nil
}
