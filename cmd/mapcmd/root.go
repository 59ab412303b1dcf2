package mapcmd

import (
	"context"
	"time"

	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/lib/atomicmap"
	"github.com/ValentinKolb/dMap/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcMap atomicmap.IAtomicMap[string, []byte]

	// MapCommands represents the map command group
	MapCommands = &cobra.Command{
		Use:               "map",
		Short:             "Perform atomic map operations",
		PersistentPreRunE: setupMapClient,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rpcMap == nil {
				return nil
			}
			ctx, cancel := opCtx()
			defer cancel()
			return rpcMap.Close(ctx)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the map command
	util.SetupRPCClientFlags(MapCommands)

	// Primitive addressing flags
	MapCommands.PersistentFlags().Int("shard", 1, util.WrapString("ID of the shard to connect to"))
	MapCommands.PersistentFlags().String("map", "default", util.WrapString("Name of the map primitive to operate on"))

	// Add subcommands
	MapCommands.AddCommand(putCmd)
	MapCommands.AddCommand(putIfAbsentCmd)
	MapCommands.AddCommand(getCmd)
	MapCommands.AddCommand(delCmd)
	MapCommands.AddCommand(hasCmd)
	MapCommands.AddCommand(replaceCmd)
	MapCommands.AddCommand(sizeCmd)
	MapCommands.AddCommand(clearCmd)
	MapCommands.AddCommand(entriesCmd)
	MapCommands.AddCommand(watchCmd)
	MapCommands.AddCommand(perfTestCmd)
}

// opCtx creates the context for a single CLI operation
func opCtx() (context.Context, context.CancelFunc) {
	timeout := time.Duration(viper.GetInt("timeout")) * time.Second
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// setupMapClient initializes the RPC map client and connects its session
func setupMapClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the map client and connect its session
	rpcMap = client.NewRPCAtomicMap(
		util.GetMapName(),
		shardId,
		*config,
		t,
		s,
	)

	ctx, cancel := opCtx()
	defer cancel()
	return rpcMap.Connect(ctx)
}
