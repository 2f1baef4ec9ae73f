// Package grpcapi serves the capability document over gRPC.
//
// The service uses well-known protobuf types only: the request is
// google.protobuf.Empty and the response is a google.protobuf.Struct with the
// four flat maps ("api", "storage", "alarm_storage", "event_storage") as
// nested structs of bool values.
package grpcapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-capabilities/internal/response"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

const (
	ServiceName = "bindery.capabilities.v1.Capabilities"

	getCapabilitiesMethod = "/" + ServiceName + "/GetCapabilities"
)

// CapabilitiesServer is the server API for the Capabilities service.
type CapabilitiesServer interface {
	GetCapabilities(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the Capabilities service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CapabilitiesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCapabilities",
			Handler:    getCapabilitiesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bindery/capabilities/v1/capabilities.proto",
}

func getCapabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CapabilitiesServer).GetCapabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getCapabilitiesMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CapabilitiesServer).GetCapabilities(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Register adds the Capabilities service to s.
func Register(s grpc.ServiceRegistrar, srv CapabilitiesServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service implements CapabilitiesServer on top of an aggregator.
type Service struct {
	aggregator response.Aggregator
	logger     logr.Logger
}

func NewService(agg response.Aggregator, logger logr.Logger) *Service {
	return &Service{aggregator: agg, logger: logger}
}

func (s *Service) GetCapabilities(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	caps, err := response.Collect(log.IntoContext(ctx, s.logger), s.aggregator)
	if err != nil {
		s.logger.Error(err, "capability request failed")
		return nil, statusForError(err)
	}
	out, err := ToStruct(caps)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode capabilities: %v", err)
	}
	return out, nil
}

func statusForError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, source.ErrDriverUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

var wireSections = []string{"api", "storage", "alarm_storage", "event_storage"}

func sections(c *response.Capabilities) map[string]*map[string]bool {
	return map[string]*map[string]bool{
		"api":           &c.API,
		"storage":       &c.Storage,
		"alarm_storage": &c.AlarmStorage,
		"event_storage": &c.EventStorage,
	}
}

// ToStruct encodes c as a protobuf Struct.
func ToStruct(c response.Capabilities) (*structpb.Struct, error) {
	fields := make(map[string]any, len(wireSections))
	for name, m := range sections(&c) {
		section := make(map[string]any, len(*m))
		for k, v := range *m {
			section[k] = v
		}
		fields[name] = section
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes a Struct produced by ToStruct. Every section must be
// present and every value must be a bool.
func FromStruct(s *structpb.Struct) (response.Capabilities, error) {
	var c response.Capabilities
	for name, dst := range sections(&c) {
		v, ok := s.GetFields()[name]
		if !ok {
			return response.Capabilities{}, fmt.Errorf("capabilities: missing section %q", name)
		}
		sv := v.GetStructValue()
		if sv == nil {
			return response.Capabilities{}, fmt.Errorf("capabilities: section %q is not an object", name)
		}
		out := make(map[string]bool, len(sv.GetFields()))
		for k, fv := range sv.GetFields() {
			b, ok := fv.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return response.Capabilities{}, fmt.Errorf("capabilities: %s[%q] is not a bool", name, k)
			}
			out[k] = b.BoolValue
		}
		*dst = out
	}
	return c, nil
}

// Client calls the Capabilities service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetCapabilities(ctx context.Context, opts ...grpc.CallOption) (response.Capabilities, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getCapabilitiesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return response.Capabilities{}, err
	}
	return FromStruct(out)
}
