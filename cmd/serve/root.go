package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/serializer"
	"github.com/ValentinKolb/dMap/rpc/server"
	"github.com/ValentinKolb/dMap/rpc/transport"
	"github.com/ValentinKolb/dMap/rpc/transport/tcp"
	"github.com/ValentinKolb/dMap/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dMap server",
		Long:    `Start the dMap server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMAP_<flag> (e.g. DMAP_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "shard"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("ID of the shard this server serves"))

	key = "partitions"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Number of partitions the map service splits keys into. Must match across all clients and servers of one shard"))

	key = "session-timeout"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("Default session liveness timeout in seconds, used when a client requests no explicit timeout"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Network timeout in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:5000", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:5000, /tmp/dmap.sock, ...)"))

	key = "server-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB)"))

	key = "server-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB)"))

	key = "server-workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Maximum number of concurrent request workers per client connection"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.ShardID = uint64(viper.GetInt("shard"))
	serveCmdConfig.NumPartitions = viper.GetInt("partitions")
	serveCmdConfig.DefaultSessionTimeoutSecond = viper.GetInt("session-timeout")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("server-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("server-read-buffer") * 1024,
	}

	if serveCmdConfig.NumPartitions < 1 {
		return fmt.Errorf("invalid partition count %d (must be at least 1)", serveCmdConfig.NumPartitions)
	}

	return nil
}

// run starts the dMap server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	// parse the transport
	bufferSize := viper.GetInt("server-write-buffer") * 1024
	workers := viper.GetInt("server-workers-per-conn")

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "tcp":
		t = tcp.NewTCPServerTransport(bufferSize, workers)
	case "unix":
		t = unix.NewUnixServerTransport(bufferSize, workers)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
