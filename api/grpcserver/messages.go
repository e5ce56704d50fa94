package grpcserver

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
)

// -------------------- Orders --------------------

type PayOrderRequest struct {
	Payment escrow.Payment `json:"payment"`
}

type TopUpOrderRequest struct {
	OrderID string   `json:"order_id"`
	Amount  *big.Int `json:"amount"`
}

type OrderIDRequest struct {
	OrderID string `json:"order_id"`
}

type OrderHashRequest struct {
	Hash chain.Hash `json:"hash"`
}

// ListOrdersRequest filters by the first non-empty field; with none set
// every order is returned.
type ListOrdersRequest struct {
	CustomerSubstrateAddress string `json:"customer_substrate_address,omitempty"`
	SellerSubstrateAddress   string `json:"seller_substrate_address,omitempty"`
	CustomerAddress          string `json:"customer_address,omitempty"`
	SellerAddress            string `json:"seller_address,omitempty"`
}

type OrderReply struct {
	Order escrow.Order `json:"order"`
}

type OrdersReply struct {
	Orders []escrow.Order `json:"orders"`
}

// -------------------- Service requests --------------------

type CreateServiceRequestRequest struct {
	Country         string   `json:"country"`
	City            string   `json:"city"`
	ServiceCategory string   `json:"service_category"`
	StakingAmount   *big.Int `json:"staking_amount"`
}

type ValidateLabServiceRequest struct {
	Lab             string `json:"lab_address"`
	ServiceCategory string `json:"service_category"`
	ServiceID       string `json:"service_id"`
}

type RequestKeyRequest struct {
	Key chain.Hash `json:"key"`
}

type ProcessServiceRequestRequest struct {
	Key     chain.Hash     `json:"key"`
	Payment escrow.Payment `json:"payment"`
}

// ListServiceRequestsRequest filters by requester, then by country and
// optional city.
type ListServiceRequestsRequest struct {
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Requester string `json:"requester,omitempty"`
}

type ServiceRequestReply struct {
	Request servicerequest.Request `json:"request"`
}

type ProcessServiceRequestReply struct {
	Request servicerequest.Request `json:"request"`
	Order   escrow.Order           `json:"order"`
}

type ServiceRequestsReply struct {
	Requests []servicerequest.Request `json:"requests"`
}

type LabServiceValidationRequest struct {
	Lab             string `json:"lab_address"`
	ServiceCategory string `json:"service_category"`
}

type ValidationReply struct {
	Validation servicerequest.Validation `json:"validation"`
}

// -------------------- Lab requests --------------------

type CreateLabRequestRequest struct {
	SubstrateAddress string   `json:"substrate_address"`
	Country          string   `json:"country"`
	City             string   `json:"city"`
	TestCategory     string   `json:"test_category"`
	StakingAmount    *big.Int `json:"staking_amount"`
}

type ListLabRequestsRequest struct {
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	SubstrateAddress string `json:"substrate_address,omitempty"`
	Requester        string `json:"requester,omitempty"`
}

type LabRequestReply struct {
	Request labrequest.Request `json:"request"`
}

type LabRequestsReply struct {
	Requests []labrequest.Request `json:"requests"`
}

// -------------------- Stats --------------------

type CountsRequest struct{}

type CountsReply struct {
	Orders          int    `json:"orders"`
	ServiceRequests int    `json:"service_requests"`
	LabRequests     int    `json:"lab_requests"`
	CommittedSeq    uint64 `json:"committed_seq"`
}
