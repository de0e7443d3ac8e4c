package server

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "lockerledger.v1.LockerService"

// LockerService applies commands and serves locker reads for both the gRPC
// and the HTTP surface. Bodies use the same JSON vocabulary as the NATS
// command subjects.
type LockerService struct {
	dispatcher Dispatcher
	queries    *query.QueryService
	clock      func() time.Time
	logger     zerolog.Logger
}

// Dispatcher is the command side the service writes to.
type Dispatcher interface {
	ingestion.Dispatcher
	Sequence() int64
}

func NewLockerService(d Dispatcher, q *query.QueryService, clock func() time.Time, logger zerolog.Logger) *LockerService {
	if clock == nil {
		clock = time.Now
	}
	return &LockerService{dispatcher: d, queries: q, clock: clock, logger: logger}
}

// CommandResponse is returned by every write.
type CommandResponse struct {
	Sequence  int64             `json:"sequence"` // -1 when nothing was logged
	Duplicate bool              `json:"duplicate"`
	Events    []EventView       `json:"events"`
	Locker    *query.LockerView `json:"locker,omitempty"`
}

// EventView is one emitted event, tagged with its type.
type EventView struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Apply parses body as a command of the given kind and runs it. key is the
// idempotency key used when the body carries none.
func (s *LockerService) Apply(ctx context.Context, kind string, body []byte, key string) (*CommandResponse, error) {
	req, err := ingestion.Parse(kind, body, key)
	if err != nil {
		return nil, err
	}

	var res *core.Result
	if req.Create != nil {
		res, err = s.dispatcher.CreateLocker(ctx, *req.Create)
	} else {
		res, err = s.dispatcher.Execute(ctx, *req.Command)
	}
	if err != nil {
		return nil, err
	}

	resp := &CommandResponse{
		Sequence:  res.Sequence,
		Duplicate: res.Duplicate,
		Events:    make([]EventView, 0, len(res.Events)),
	}
	for _, e := range res.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		resp.Events = append(resp.Events, EventView{Type: e.EventType().String(), Payload: payload})
	}
	if res.Locker != nil {
		asOf := res.Sequence
		if asOf < 0 {
			asOf = s.dispatcher.Sequence() - 1
		}
		resp.Locker = query.NewLockerView(res.Locker, s.clock().UTC(), asOf)
	}

	s.logger.Debug().
		Str("op", req.Op()).
		Int64("sequence", res.Sequence).
		Bool("duplicate", res.Duplicate).
		Msg("command applied")
	return resp, nil
}

// --- gRPC ---

// LockerServiceServer is the handler type of the lockerledger.v1 service.
// Messages are google.protobuf.Struct holding the JSON bodies.
type LockerServiceServer interface {
	CreateLocker(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Contribute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Payback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLocker(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ LockerServiceServer = (*LockerService)(nil)

func (s *LockerService) CreateLocker(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.applyStruct(ctx, ingestion.KindCreate, in)
}

func (s *LockerService) Contribute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.applyStruct(ctx, ingestion.KindContribute, in)
}

func (s *LockerService) Payback(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.applyStruct(ctx, ingestion.KindPayback, in)
}

// Execute runs any other locker operation, named by the "op" field.
func (s *LockerService) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.applyStruct(ctx, ingestion.KindOp, in)
}

func (s *LockerService) GetLocker(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := in.GetFields()["locker_id"].GetStringValue()
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "locker_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid locker_id: %v", err)
	}

	view, err := s.queries.GetLocker(ctx, id)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(view)
}

func (s *LockerService) applyStruct(ctx context.Context, kind string, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	resp, err := s.Apply(ctx, kind, body, "")
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(resp)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func unaryMethod(name string, call func(LockerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LockerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LockerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LockerServiceDesc describes the service for grpc.Server.RegisterService.
var LockerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LockerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateLocker", LockerServiceServer.CreateLocker),
		unaryMethod("Contribute", LockerServiceServer.Contribute),
		unaryMethod("Payback", LockerServiceServer.Payback),
		unaryMethod("Execute", LockerServiceServer.Execute),
		unaryMethod("GetLocker", LockerServiceServer.GetLocker),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lockerledger/v1/locker.proto",
}

// --- errors ---

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{ingestion.ErrMalformed, codes.InvalidArgument},
	{locker.ErrInvalidOwner, codes.PermissionDenied},
	{locker.ErrInvalidSender, codes.PermissionDenied},
	{locker.ErrInvalidPhase, codes.FailedPrecondition},
	{locker.ErrFloorReached, codes.FailedPrecondition},
	{locker.ErrBelowFloor, codes.FailedPrecondition},
	{locker.ErrEnabledLocker, codes.FailedPrecondition},
	{locker.ErrTooEarly, codes.FailedPrecondition},
	{locker.ErrProviderExists, codes.AlreadyExists},
	{locker.ErrMinimumPayoff, codes.InvalidArgument},
	{locker.ErrInvalidAmount, codes.InvalidArgument},
	{locker.ErrInvalidTerms, codes.InvalidArgument},
	{core.ErrNotFound, codes.NotFound},
	{core.ErrAlreadyExists, codes.AlreadyExists},
	{core.ErrUnknownOp, codes.InvalidArgument},
	{core.ErrUnsupportedCurrency, codes.InvalidArgument},
	{core.ErrDuplicateInFlight, codes.Aborted},
	{ledger.ErrInsufficientBalance, codes.FailedPrecondition},
	{ledger.ErrNotOwner, codes.FailedPrecondition},
	{ledger.ErrUnknownAsset, codes.InvalidArgument},
	{query.ErrHistoryUnavailable, codes.Unavailable},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// CodeOf maps a command or query error to a gRPC code.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return codes.Internal
}

func statusFromError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(CodeOf(err), err.Error())
}
