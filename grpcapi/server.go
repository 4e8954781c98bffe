package grpcapi

import (
	"context"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/MyJetTools/my-no-sql-server-sub000/app"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mynosql.Writer"

func unaryHandler[Req any, Resp any](call func(*Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(*Service), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/"}
			return interceptor(ctx, req, info, func(ctx context.Context, in interface{}) (interface{}, error) {
				return call(srv.(*Service), ctx, in.(*Req))
			})
		},
	}
}

func serviceDesc() *grpc.ServiceDesc {
	createTable := unaryHandler((*Service).CreateTableIfNotExists)
	createTable.MethodName = "CreateTableIfNotExists"
	setAttributes := unaryHandler((*Service).SetTableAttributes)
	setAttributes.MethodName = "SetTableAttributes"
	getRow := unaryHandler((*Service).GetRow)
	getRow.MethodName = "GetRow"
	postActions := unaryHandler((*Service).PostTransactionActions)
	postActions.MethodName = "PostTransactionActions"
	cancel := unaryHandler((*Service).CancelTransaction)
	cancel.MethodName = "CancelTransaction"

	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			createTable,
			setAttributes,
			getRow,
			postActions,
			cancel,
		},
		Streams: []grpc.StreamDesc{{
			StreamName:    "GetRows",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				req := new(GetRowsRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(*Service).GetRows(req, stream)
			},
		}},
	}
}

// Server owns the gRPC listener.
type Server struct {
	grpcServer *grpc.Server
	addr       string
}

// NewServer builds the gRPC server on addr.
func NewServer(a *app.App, addr string) *Server {
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	grpcServer.RegisterService(serviceDesc(), &Service{App: a})
	return &Server{grpcServer: grpcServer, addr: addr}
}

// Serve blocks until Stop or a listener failure.
func (s *Server) Serve() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	log.WithField("addr", s.addr).Info("grpc server listening")
	return errors.Wrap(s.grpcServer.Serve(listener), "grpc server failed")
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(listener net.Listener) error {
	return errors.Wrap(s.grpcServer.Serve(listener), "grpc server failed")
}

// Stop drains in-flight calls and shuts the server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
