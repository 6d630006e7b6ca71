package mpesa

import (
	"context"
	"sync"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// Simulator accepts every push without contacting Daraja. The server uses
// it when no credentials are configured; results then arrive through the
// callback endpoint or the expiry sweep.
type Simulator struct {
	mu     sync.Mutex
	pushes []STKPushRequest
	// Err, when set, is returned instead of accepting the push.
	Err error
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) STKPush(_ context.Context, req STKPushRequest) (STKPushResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return STKPushResponse{}, s.Err
	}
	s.pushes = append(s.pushes, req)
	return STKPushResponse{
		MerchantRequestID:   xid.New("sim-mr"),
		CheckoutRequestID:   xid.New("ws_CO"),
		ResponseCode:        responseCodeSuccess,
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

// Pushes returns the requests accepted so far.
func (s *Simulator) Pushes() []STKPushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]STKPushRequest(nil), s.pushes...)
}
