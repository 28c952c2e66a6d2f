package api

import (
	"context"
	"errors"
	"strings"

	"roombook/internal/database"
	"roombook/internal/models"
	"roombook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	availabilityServiceName = "roombook.availability.v1.AvailabilityService"
	checkSlotMethod         = "/" + availabilityServiceName + "/CheckSlot"
	listSlotsMethod         = "/" + availabilityServiceName + "/ListSlots"
)

type CheckSlotRequest struct {
	RoomID           string  `json:"room_id"`
	Date             string  `json:"date"`
	StartTime        string  `json:"start_time"`
	DurationHours    float64 `json:"duration_hours"`
	ExcludeBookingID string  `json:"exclude_booking_id,omitempty"`
}

type CheckSlotResponse struct {
	Availability *models.Availability `json:"availability"`
}

type ListSlotsRequest struct {
	RoomID           string  `json:"room_id"`
	Date             string  `json:"date"`
	DurationHours    float64 `json:"duration_hours"`
	ExcludeBookingID string  `json:"exclude_booking_id,omitempty"`
}

type ListSlotsResponse struct {
	RoomID        string              `json:"room_id"`
	Date          string              `json:"date"`
	DurationHours float64             `json:"duration_hours"`
	Slots         []models.SlotStatus `json:"slots"`
}

// AvailabilityServer is the server API of the availability service.
type AvailabilityServer interface {
	CheckSlot(context.Context, *CheckSlotRequest) (*CheckSlotResponse, error)
	ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckSlot", Handler: checkSlotHandler},
		{MethodName: "ListSlots", Handler: listSlotsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

func checkSlotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckSlotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).CheckSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkSlotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).CheckSlot(ctx, req.(*CheckSlotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listSlotsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSlotsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).ListSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listSlotsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).ListSlots(ctx, req.(*ListSlotsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AvailabilityClient calls the availability service with the JSON codec.
type AvailabilityClient struct {
	cc grpc.ClientConnInterface
}

func NewAvailabilityClient(cc grpc.ClientConnInterface) *AvailabilityClient {
	return &AvailabilityClient{cc: cc}
}

func (c *AvailabilityClient) CheckSlot(ctx context.Context, in *CheckSlotRequest, opts ...grpc.CallOption) (*CheckSlotResponse, error) {
	out := new(CheckSlotResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, checkSlotMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AvailabilityClient) ListSlots(ctx context.Context, in *ListSlotsRequest, opts ...grpc.CallOption) (*ListSlotsResponse, error) {
	out := new(ListSlotsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, listSlotsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailabilityService answers slot questions for service clients.
type AvailabilityService struct {
	bookings *service.BookingService
}

func NewAvailabilityService(bookings *service.BookingService) *AvailabilityService {
	return &AvailabilityService{bookings: bookings}
}

func (s *AvailabilityService) CheckSlot(ctx context.Context, req *CheckSlotRequest) (*CheckSlotResponse, error) {
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room_id is required")
	}
	startTime := strings.TrimSpace(req.StartTime)
	if startTime == "" {
		return nil, status.Error(codes.InvalidArgument, "start_time is required")
	}
	if req.DurationHours <= 0 {
		return nil, status.Error(codes.InvalidArgument, "duration_hours must be positive")
	}

	date, err := s.bookings.ParseDate(req.Date)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid date format; expected YYYY-MM-DD")
	}

	availability, err := s.bookings.CheckSlot(ctx, roomID, date, startTime, req.DurationHours, req.ExcludeBookingID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &CheckSlotResponse{Availability: availability}, nil
}

func (s *AvailabilityService) ListSlots(ctx context.Context, req *ListSlotsRequest) (*ListSlotsResponse, error) {
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room_id is required")
	}
	hours := req.DurationHours
	if hours <= 0 {
		hours = models.DefaultMinDurationHours
	}

	date, err := s.bookings.ParseDate(req.Date)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid date format; expected YYYY-MM-DD")
	}

	slots, err := s.bookings.SlotAvailability(ctx, roomID, date, hours, req.ExcludeBookingID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListSlotsResponse{
		RoomID:        roomID,
		Date:          date.Format(models.DateLayout),
		DurationHours: hours,
		Slots:         slots,
	}, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return status.Error(codes.NotFound, "room not found")
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
