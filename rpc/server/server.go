package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/serializer"
	"github.com/ValentinKolb/dMap/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new RPC server hosting the map service
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	service    IMapService
}

// registerTransportHandlers wires the service into the transport layer
func (s *rpcServer) registerTransportHandlers() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Case wrong shard -> error
		if shardId != s.config.ShardID {
			respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the service handle the request
			respMsg = s.service.Handle(&msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})

	s.transport.RegisterStreamHandler(func(shardId uint64, req []byte, stream transport.IServerStream) error {
		if shardId != s.config.ShardID {
			return fmt.Errorf("shard %d not found", shardId)
		}

		var msg common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			return fmt.Errorf("failed to deserialize stream request: %s", err)
		}

		return s.service.HandleStream(&msg, func(elem *common.Message) error {
			data, err := s.serializer.Serialize(*elem)
			if err != nil {
				return err
			}
			return stream.Send(data)
		})
	})
}

// init creates the map service and configures the transport layer
func (s *rpcServer) init() error {
	// Init logger
	common.InitLoggers(s.config.LogLevel)

	sessionTimeout := time.Duration(s.config.DefaultSessionTimeoutSecond) * time.Second
	s.service = NewMapService(s.config.NumPartitions, sessionTimeout)

	Logger.Infof("created map service with %d partitions", s.service.NumPartitions())

	// Configure the transport layer
	s.registerTransportHandlers()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the map service and start the transport layer
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}
