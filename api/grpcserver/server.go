package grpcserver

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/service"
)

// CallerHeader carries the settlement address of the account making a call.
const CallerHeader = "x-caller-address"

// Server adapts service.Ledger to gRPC.
type Server struct {
	svc *service.Ledger
}

func NewServer(svc *service.Ledger) *Server {
	return &Server{svc: svc}
}

func callerFrom(ctx context.Context) (chain.Address, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(CallerHeader)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Errorf(codes.Unauthenticated, "missing %s header", CallerHeader)
	}
	a, err := chain.HexToAddress(vals[0])
	if err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	return a, nil
}

// optionalAddress parses s, leaving an empty string as the zero address.
func optionalAddress(s string) (chain.Address, error) {
	if s == "" {
		return "", nil
	}
	return chain.HexToAddress(s)
}

// normalizePayment canonicalises the addresses a client sent.
func normalizePayment(p escrow.Payment) (escrow.Payment, error) {
	var err error
	if p.CustomerAddress, err = optionalAddress(string(p.CustomerAddress)); err != nil {
		return p, err
	}
	if p.SellerAddress, err = optionalAddress(string(p.SellerAddress)); err != nil {
		return p, err
	}
	return p, nil
}

// -------------------- Orders --------------------

func (s *Server) PayOrder(ctx context.Context, req *PayOrderRequest) (*OrderReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := normalizePayment(req.Payment)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.svc.PayOrder(ctx, caller, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) TopUpOrderPayment(ctx context.Context, req *TopUpOrderRequest) (*OrderReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.TopUpOrderPayment(ctx, caller, req.OrderID, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) FulfillOrder(ctx context.Context, req *OrderIDRequest) (*OrderReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.FulfillOrder(ctx, caller, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) RefundOrder(ctx context.Context, req *OrderIDRequest) (*OrderReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.RefundOrder(ctx, caller, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) GetOrder(_ context.Context, req *OrderIDRequest) (*OrderReply, error) {
	o, err := s.svc.GetOrder(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) GetOrderByHash(_ context.Context, req *OrderHashRequest) (*OrderReply, error) {
	o, err := s.svc.GetOrderByHash(req.Hash)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: o}, nil
}

func (s *Server) ListOrders(_ context.Context, req *ListOrdersRequest) (*OrdersReply, error) {
	var orders []escrow.Order
	switch {
	case req.CustomerSubstrateAddress != "":
		orders = s.svc.OrdersByCustomerSubstrateAddress(req.CustomerSubstrateAddress)
	case req.SellerSubstrateAddress != "":
		orders = s.svc.OrdersBySellerSubstrateAddress(req.SellerSubstrateAddress)
	case req.CustomerAddress != "":
		a, err := chain.HexToAddress(req.CustomerAddress)
		if err != nil {
			return nil, toStatus(err)
		}
		orders = s.svc.OrdersByCustomerAddress(a)
	case req.SellerAddress != "":
		a, err := chain.HexToAddress(req.SellerAddress)
		if err != nil {
			return nil, toStatus(err)
		}
		orders = s.svc.OrdersBySellerAddress(a)
	default:
		orders = s.svc.AllOrders()
	}
	return &OrdersReply{Orders: orders}, nil
}

// -------------------- Service requests --------------------

func (s *Server) CreateServiceRequest(ctx context.Context, req *CreateServiceRequestRequest) (*ServiceRequestReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.svc.CreateServiceRequest(ctx, caller, req.Country, req.City, req.ServiceCategory, req.StakingAmount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ServiceRequestReply{Request: r}, nil
}

func (s *Server) ValidateLabService(ctx context.Context, req *ValidateLabServiceRequest) (*ValidationReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	lab, err := chain.HexToAddress(req.Lab)
	if err != nil {
		return nil, toStatus(err)
	}
	v, err := s.svc.ValidateLabService(ctx, caller, lab, req.ServiceCategory, req.ServiceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValidationReply{Validation: v}, nil
}

func (s *Server) ClaimServiceRequest(ctx context.Context, req *RequestKeyRequest) (*ServiceRequestReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.svc.ClaimServiceRequest(ctx, caller, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ServiceRequestReply{Request: r}, nil
}

func (s *Server) ProcessServiceRequest(ctx context.Context, req *ProcessServiceRequestRequest) (*ProcessServiceRequestReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := normalizePayment(req.Payment)
	if err != nil {
		return nil, toStatus(err)
	}
	r, o, err := s.svc.ProcessServiceRequest(ctx, caller, req.Key, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProcessServiceRequestReply{Request: r, Order: o}, nil
}

func (s *Server) GetServiceRequest(_ context.Context, req *RequestKeyRequest) (*ServiceRequestReply, error) {
	r, err := s.svc.GetServiceRequest(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ServiceRequestReply{Request: r}, nil
}

func (s *Server) ListServiceRequests(_ context.Context, req *ListServiceRequestsRequest) (*ServiceRequestsReply, error) {
	reply := &ServiceRequestsReply{}
	switch {
	case req.Requester != "":
		a, err := chain.HexToAddress(req.Requester)
		if err != nil {
			return nil, toStatus(err)
		}
		reply.Requests = s.svc.ServiceRequestsByRequester(a)
	case req.Country != "" && req.City != "":
		reply.Requests = s.svc.ServiceRequestsByCountryCity(req.Country, req.City)
	case req.Country != "":
		reply.Requests = s.svc.ServiceRequestsByCountry(req.Country)
	default:
		reply.Requests = s.svc.AllServiceRequests()
	}
	return reply, nil
}

func (s *Server) GetLabServiceValidation(_ context.Context, req *LabServiceValidationRequest) (*ValidationReply, error) {
	lab, err := chain.HexToAddress(req.Lab)
	if err != nil {
		return nil, toStatus(err)
	}
	v, err := s.svc.LabServiceValidation(lab, req.ServiceCategory)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValidationReply{Validation: v}, nil
}

// -------------------- Lab requests --------------------

func (s *Server) CreateLabRequest(ctx context.Context, req *CreateLabRequestRequest) (*LabRequestReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.svc.CreateLabRequest(ctx, caller, req.SubstrateAddress, req.Country, req.City, req.TestCategory, req.StakingAmount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LabRequestReply{Request: r}, nil
}

func (s *Server) FulfillLabRequest(ctx context.Context, req *RequestKeyRequest) (*LabRequestReply, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.svc.FulfillLabRequest(ctx, caller, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LabRequestReply{Request: r}, nil
}

func (s *Server) GetLabRequest(_ context.Context, req *RequestKeyRequest) (*LabRequestReply, error) {
	r, err := s.svc.GetLabRequest(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LabRequestReply{Request: r}, nil
}

func (s *Server) ListLabRequests(_ context.Context, req *ListLabRequestsRequest) (*LabRequestsReply, error) {
	reply := &LabRequestsReply{}
	switch {
	case req.Requester != "":
		a, err := chain.HexToAddress(req.Requester)
		if err != nil {
			return nil, toStatus(err)
		}
		reply.Requests = s.svc.LabRequestsByRequester(a)
	case req.SubstrateAddress != "":
		reply.Requests = s.svc.LabRequestsBySubstrateAddress(req.SubstrateAddress)
	case req.Country != "" && req.City != "":
		reply.Requests = s.svc.LabRequestsByCountryCity(req.Country, req.City)
	case req.Country != "":
		reply.Requests = s.svc.LabRequestsByCountry(req.Country)
	default:
		reply.Requests = s.svc.AllLabRequests()
	}
	return reply, nil
}

// -------------------- Stats --------------------

func (s *Server) Counts(_ context.Context, _ *CountsRequest) (*CountsReply, error) {
	return &CountsReply{
		Orders:          s.svc.OrderCount(),
		ServiceRequests: s.svc.ServiceRequestCount(),
		LabRequests:     s.svc.LabRequestCount(),
		CommittedSeq:    s.svc.Committed(),
	}, nil
}
