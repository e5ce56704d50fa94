package grpcserver

import (
	"context"
	"math/big"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
)

// Client calls the ledger API over an established connection.
type Client struct {
	cc *grpc.ClientConn
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, caller chain.Address, method string, in, out interface{}) error {
	if !caller.IsZero() {
		ctx = metadata.AppendToOutgoingContext(ctx, CallerHeader, caller.String())
	}
	return c.cc.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) PayOrder(ctx context.Context, caller chain.Address, p escrow.Payment) (escrow.Order, error) {
	out := new(OrderReply)
	err := c.invoke(ctx, caller, "PayOrder", &PayOrderRequest{Payment: p}, out)
	return out.Order, err
}

func (c *Client) TopUpOrderPayment(ctx context.Context, caller chain.Address, orderID string, amount *big.Int) (escrow.Order, error) {
	out := new(OrderReply)
	err := c.invoke(ctx, caller, "TopUpOrderPayment", &TopUpOrderRequest{OrderID: orderID, Amount: amount}, out)
	return out.Order, err
}

func (c *Client) FulfillOrder(ctx context.Context, caller chain.Address, orderID string) (escrow.Order, error) {
	out := new(OrderReply)
	err := c.invoke(ctx, caller, "FulfillOrder", &OrderIDRequest{OrderID: orderID}, out)
	return out.Order, err
}

func (c *Client) RefundOrder(ctx context.Context, caller chain.Address, orderID string) (escrow.Order, error) {
	out := new(OrderReply)
	err := c.invoke(ctx, caller, "RefundOrder", &OrderIDRequest{OrderID: orderID}, out)
	return out.Order, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (escrow.Order, error) {
	out := new(OrderReply)
	err := c.invoke(ctx, "", "GetOrder", &OrderIDRequest{OrderID: orderID}, out)
	return out.Order, err
}

func (c *Client) ListOrders(ctx context.Context, req ListOrdersRequest) ([]escrow.Order, error) {
	out := new(OrdersReply)
	err := c.invoke(ctx, "", "ListOrders", &req, out)
	return out.Orders, err
}

func (c *Client) CreateServiceRequest(ctx context.Context, caller chain.Address, req CreateServiceRequestRequest) (servicerequest.Request, error) {
	out := new(ServiceRequestReply)
	err := c.invoke(ctx, caller, "CreateServiceRequest", &req, out)
	return out.Request, err
}

func (c *Client) ValidateLabService(ctx context.Context, caller, lab chain.Address, category, serviceID string) (servicerequest.Validation, error) {
	out := new(ValidationReply)
	in := &ValidateLabServiceRequest{Lab: lab.String(), ServiceCategory: category, ServiceID: serviceID}
	err := c.invoke(ctx, caller, "ValidateLabService", in, out)
	return out.Validation, err
}

func (c *Client) ClaimServiceRequest(ctx context.Context, caller chain.Address, key chain.Hash) (servicerequest.Request, error) {
	out := new(ServiceRequestReply)
	err := c.invoke(ctx, caller, "ClaimServiceRequest", &RequestKeyRequest{Key: key}, out)
	return out.Request, err
}

func (c *Client) ProcessServiceRequest(ctx context.Context, caller chain.Address, key chain.Hash, p escrow.Payment) (*ProcessServiceRequestReply, error) {
	out := new(ProcessServiceRequestReply)
	err := c.invoke(ctx, caller, "ProcessServiceRequest", &ProcessServiceRequestRequest{Key: key, Payment: p}, out)
	return out, err
}

func (c *Client) ListServiceRequests(ctx context.Context, req ListServiceRequestsRequest) ([]servicerequest.Request, error) {
	out := new(ServiceRequestsReply)
	err := c.invoke(ctx, "", "ListServiceRequests", &req, out)
	return out.Requests, err
}

func (c *Client) CreateLabRequest(ctx context.Context, caller chain.Address, req CreateLabRequestRequest) (labrequest.Request, error) {
	out := new(LabRequestReply)
	err := c.invoke(ctx, caller, "CreateLabRequest", &req, out)
	return out.Request, err
}

func (c *Client) FulfillLabRequest(ctx context.Context, caller chain.Address, key chain.Hash) (labrequest.Request, error) {
	out := new(LabRequestReply)
	err := c.invoke(ctx, caller, "FulfillLabRequest", &RequestKeyRequest{Key: key}, out)
	return out.Request, err
}

func (c *Client) Counts(ctx context.Context) (*CountsReply, error) {
	out := new(CountsReply)
	err := c.invoke(ctx, "", "Counts", &CountsRequest{}, out)
	return out, err
}
