package rpc

import (
	"net/http"
	"sort"

	"claimbridge/core/domain"
)

type domainStatus struct {
	Domain string `json:"domain"`
	Paused bool   `json:"paused"`
}

func (s *Server) lookupDomain(req *RPCRequest) (*domain.Domain, error) {
	if err := expectParams(req, 1, 1); err != nil {
		return nil, err
	}
	var name string
	if err := decodeParam(req, 0, &name, "domain"); err != nil {
		return nil, err
	}
	d, ok := s.domains[name]
	if !ok {
		return nil, unavailable("domain " + name)
	}
	return d, nil
}

func (s *Server) setPaused(r *http.Request, req *RPCRequest, paused bool) (interface{}, error) {
	d, err := s.lookupDomain(req)
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(r, ScopeOperator)
	if err != nil {
		return nil, err
	}
	if err := d.SetPaused(caller, paused); err != nil {
		return nil, err
	}
	return domainStatus{Domain: d.Name(), Paused: paused}, nil
}

func (s *Server) handlePause(r *http.Request, req *RPCRequest) (interface{}, error) {
	return s.setPaused(r, req, true)
}

func (s *Server) handleResume(r *http.Request, req *RPCRequest) (interface{}, error) {
	return s.setPaused(r, req, false)
}

// handleDomainStatus reports one domain, or every hosted domain when called
// without params.
func (s *Server) handleDomainStatus(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if len(req.Params) == 0 {
		names := make([]string, 0, len(s.domains))
		for name := range s.domains {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]domainStatus, 0, len(names))
		for _, name := range names {
			paused, err := s.domains[name].Paused()
			if err != nil {
				return nil, err
			}
			out = append(out, domainStatus{Domain: name, Paused: paused})
		}
		return out, nil
	}
	d, err := s.lookupDomain(req)
	if err != nil {
		return nil, err
	}
	paused, err := d.Paused()
	if err != nil {
		return nil, err
	}
	return domainStatus{Domain: d.Name(), Paused: paused}, nil
}
