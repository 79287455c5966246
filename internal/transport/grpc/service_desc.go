package grpc

import (
	"context"

	"google.golang.org/grpc"

	"barbercal/backend/internal/transport/wire"
)

const ServiceName = "barbercal.scheduling.v1.SchedulingService"

// SchedulingService is implemented by SchedulingServer. Messages are the
// wire package's JSON shapes.
type SchedulingService interface {
	GetAvailableSlots(ctx context.Context, req *wire.SlotsRequest) (*wire.SlotsResponse, error)
	GetNextAvailable(ctx context.Context, req *wire.NextAvailableRequest) (*wire.NextAvailableResponse, error)
	IsBlocked(ctx context.Context, req *wire.IsBlockedRequest) (*wire.IsBlockedResponse, error)
	CreateBooking(ctx context.Context, req *wire.CreateBookingRequest) (*wire.AppointmentResponse, error)
	UpdateBooking(ctx context.Context, req *wire.UpdateBookingRequest) (*wire.AppointmentResponse, error)
	GenerateSeries(ctx context.Context, req *wire.GenerateSeriesRequest) (*wire.SeriesResponse, error)
	ReconcileCalendarChange(ctx context.Context, req *wire.ReconcileRequest) (*wire.AppointmentResponse, error)
}

func RegisterSchedulingService(s grpc.ServiceRegistrar, srv SchedulingService) {
	s.RegisterService(&serviceDesc, srv)
}

func unary[Req, Resp any](method string, call func(SchedulingService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingService)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetAvailableSlots", SchedulingService.GetAvailableSlots),
		unary("GetNextAvailable", SchedulingService.GetNextAvailable),
		unary("IsBlocked", SchedulingService.IsBlocked),
		unary("CreateBooking", SchedulingService.CreateBooking),
		unary("UpdateBooking", SchedulingService.UpdateBooking),
		unary("GenerateSeries", SchedulingService.GenerateSeries),
		unary("ReconcileCalendarChange", SchedulingService.ReconcileCalendarChange),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "barbercal/scheduling/v1/scheduling.json",
}

// Client calls SchedulingService over conn with the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAvailableSlots(ctx context.Context, req *wire.SlotsRequest, opts ...grpc.CallOption) (*wire.SlotsResponse, error) {
	return invoke[wire.SlotsResponse](ctx, c, "GetAvailableSlots", req, opts)
}

func (c *Client) GetNextAvailable(ctx context.Context, req *wire.NextAvailableRequest, opts ...grpc.CallOption) (*wire.NextAvailableResponse, error) {
	return invoke[wire.NextAvailableResponse](ctx, c, "GetNextAvailable", req, opts)
}

func (c *Client) IsBlocked(ctx context.Context, req *wire.IsBlockedRequest, opts ...grpc.CallOption) (*wire.IsBlockedResponse, error) {
	return invoke[wire.IsBlockedResponse](ctx, c, "IsBlocked", req, opts)
}

func (c *Client) CreateBooking(ctx context.Context, req *wire.CreateBookingRequest, opts ...grpc.CallOption) (*wire.AppointmentResponse, error) {
	return invoke[wire.AppointmentResponse](ctx, c, "CreateBooking", req, opts)
}

func (c *Client) UpdateBooking(ctx context.Context, req *wire.UpdateBookingRequest, opts ...grpc.CallOption) (*wire.AppointmentResponse, error) {
	return invoke[wire.AppointmentResponse](ctx, c, "UpdateBooking", req, opts)
}

func (c *Client) GenerateSeries(ctx context.Context, req *wire.GenerateSeriesRequest, opts ...grpc.CallOption) (*wire.SeriesResponse, error) {
	return invoke[wire.SeriesResponse](ctx, c, "GenerateSeries", req, opts)
}

func (c *Client) ReconcileCalendarChange(ctx context.Context, req *wire.ReconcileRequest, opts ...grpc.CallOption) (*wire.AppointmentResponse, error) {
	return invoke[wire.AppointmentResponse](ctx, c, "ReconcileCalendarChange", req, opts)
}
