package mapcmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Long:  "Sets the value for a key. An optional --ttl flag expires the entry after the given number of seconds.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			ttlSec, _ := cmd.Flags().GetInt("ttl")

			ctx, cancel := opCtx()
			defer cancel()

			prev, err := rpcMap.Put(ctx, key, []byte(value), time.Duration(ttlSec)*time.Second)
			if err != nil {
				return err
			}
			if prev != nil {
				fmt.Printf("put successfully (replaced version %d)\n", prev.Version)
			} else {
				fmt.Println("put successfully")
			}
			return nil
		},
	}
	putIfAbsentCmd = &cobra.Command{
		Use:   "putIfAbsent [key] [value]",
		Short: "Sets the value for a key only if the key is not already set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			ttlSec, _ := cmd.Flags().GetInt("ttl")

			ctx, cancel := opCtx()
			defer cancel()

			existing, err := rpcMap.PutIfAbsent(ctx, key, []byte(value), time.Duration(ttlSec)*time.Second)
			if err != nil {
				return err
			}
			if existing != nil {
				fmt.Printf("key already set: value=%s, version=%d\n", existing.Value, existing.Version)
			} else {
				fmt.Println("putIfAbsent successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			ctx, cancel := opCtx()
			defer cancel()

			v, err := rpcMap.Get(ctx, key)
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Printf("key=%s, found=false\n", key)
			} else {
				fmt.Printf("key=%s, found=true, value=%s, version=%d\n", key, v.Value, v.Version)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Removes a key value pair",
		Long:  "Removes a key value pair. An optional --version flag removes only if the stored version matches.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			ctx, cancel := opCtx()
			defer cancel()

			if versionStr, _ := cmd.Flags().GetString("version"); versionStr != "" {
				version, err := strconv.ParseInt(versionStr, 10, 64)
				if err != nil {
					return fmt.Errorf("version must be a number: %w", err)
				}
				ok, err := rpcMap.RemoveVersion(ctx, key, version)
				if err != nil {
					return err
				}
				fmt.Printf("removed=%t\n", ok)
				return nil
			}

			prev, err := rpcMap.Remove(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("removed=%t\n", prev != nil)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			ctx, cancel := opCtx()
			defer cancel()

			found, err := rpcMap.ContainsKey(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Sets the value for a key only if the key is already set",
		Long:  "Sets the value for a key only if the key is already set. An optional --version flag replaces only if the stored version matches.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			ctx, cancel := opCtx()
			defer cancel()

			if versionStr, _ := cmd.Flags().GetString("version"); versionStr != "" {
				version, err := strconv.ParseInt(versionStr, 10, 64)
				if err != nil {
					return fmt.Errorf("version must be a number: %w", err)
				}
				ok, err := rpcMap.ReplaceVersion(ctx, key, version, []byte(value))
				if err != nil {
					return err
				}
				fmt.Printf("replaced=%t\n", ok)
				return nil
			}

			prev, err := rpcMap.Replace(ctx, key, []byte(value))
			if err != nil {
				return err
			}
			if prev != nil {
				fmt.Printf("replaced version %d\n", prev.Version)
			} else {
				fmt.Println("key not set, nothing replaced")
			}
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries in the map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			size, err := rpcMap.Size(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("size=%d\n", size)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all entries from the map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			if err := rpcMap.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	entriesCmd = &cobra.Command{
		Use:   "entries",
		Short: "Prints all entries of the map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			ch := make(chan atomicmap.Entry[string, []byte], 64)
			done := make(chan error, 1)
			go func() {
				done <- rpcMap.EntrySet().Elements(ctx, ch)
			}()

			count := 0
			for e := range ch {
				fmt.Printf("key=%s, value=%s, version=%d\n", e.Key, e.Value.Value, e.Value.Version)
				count++
			}
			if err := <-done; err != nil {
				return err
			}
			fmt.Printf("%d entries\n", count)
			return nil
		},
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Streams change events of the map until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events := make(chan atomicmap.Event[string, []byte], 64)

			ctx, cancel := opCtx()
			if err := rpcMap.AddListener(ctx, events); err != nil {
				cancel()
				return err
			}
			cancel()

			fmt.Println("watching for events (ctrl-c to stop)...")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case ev := <-events:
					switch ev.Type {
					case atomicmap.EventInserted:
						fmt.Printf("inserted: key=%s, value=%s, version=%d\n",
							ev.Key, ev.NewValue.Value, ev.NewValue.Version)
					case atomicmap.EventUpdated:
						fmt.Printf("updated: key=%s, value=%s, version=%d (was version %d)\n",
							ev.Key, ev.NewValue.Value, ev.NewValue.Version, ev.OldValue.Version)
					case atomicmap.EventRemoved:
						fmt.Printf("removed: key=%s (was version %d)\n", ev.Key, ev.OldValue.Version)
					}
				case <-sig:
					return rpcMap.RemoveListener(cmd.Context(), events)
				}
			}
		},
	}
)

func init() {
	putCmd.Flags().Int("ttl", 0, "Time to live in seconds (0 = no expiry)")
	putIfAbsentCmd.Flags().Int("ttl", 0, "Time to live in seconds (0 = no expiry)")
	delCmd.Flags().String("version", "", "Remove only if the stored version matches")
	replaceCmd.Flags().String("version", "", "Replace only if the stored version matches")
}
