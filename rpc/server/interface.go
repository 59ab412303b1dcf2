package server

import (
	"github.com/ValentinKolb/dMap/rpc/common"
)

// IMapService is the interface of the map primitive backend. It handles
// decoded protocol messages; transport and serialization concerns live in
// the surrounding rpcServer.
type IMapService interface {
	// Handle handles a unary request and returns a response.
	// If an error occurs, it is set in the response.
	Handle(req *common.Message) (resp *common.Message)

	// HandleStream handles a stream request (entries enumeration, change
	// events), pushing each element through sink. A sink error means the
	// client cancelled; the handler returns nil in that case and an error
	// only when the stream itself failed.
	HandleStream(req *common.Message, sink func(*common.Message) error) error

	// NumPartitions returns the number of partitions the service splits
	// the key space into
	NumPartitions() int

	// Stop shuts down the service's background tasks
	Stop()
}
