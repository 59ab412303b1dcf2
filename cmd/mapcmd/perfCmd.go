package mapcmd

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dMap servers",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfDurationSec      = 5
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "duration"
	perfTestCmd.Flags().Int(key, 5, util.WrapString("How long to run each benchmark (in seconds)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfDurationSec = viper.GetInt("duration")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dMap servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Duration: %ds per benchmark\n", perfDurationSec)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]metrics.Timer)

	results["put"] = runBenchmark("put", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.Put(ctx, benchKey("put", counter), []byte("test"), 0)
		return err
	})

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	results["put-large"] = runBenchmark("put-large", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.Put(ctx, benchKey("put-large", counter), largeValue, 0)
		return err
	})

	seedKeys("get")
	results["get"] = runBenchmark("get", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.Get(ctx, benchKey("get", counter))
		return err
	})

	seedKeys("remove")
	results["remove"] = runBenchmark("remove", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.Remove(ctx, benchKey("remove", counter))
		return err
	})

	seedKeys("has")
	results["has"] = runBenchmark("has", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.ContainsKey(ctx, benchKey("has", counter))
		return err
	})

	results["has-not"] = runBenchmark("has-not", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		_, err := rpcMap.ContainsKey(ctx, benchKey("has-not-missing", counter))
		return err
	})

	seedKeys("mixed")
	results["mixed"] = runBenchmark("mixed", func(counter int) error {
		ctx, cancel := opCtx()
		defer cancel()
		key := benchKey("mixed", counter)
		switch counter % 4 {
		case 0:
			_, err := rpcMap.Put(ctx, key, []byte("test"), 0)
			return err
		case 1:
			_, err := rpcMap.Get(ctx, key)
			return err
		case 2:
			_, err := rpcMap.Remove(ctx, key)
			return err
		default:
			_, err := rpcMap.ContainsKey(ctx, key)
			return err
		}
	})

	// Remove the benchmark keys
	cleanupKeys()

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func benchKey(prefix string, i int) string {
	return fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i%perfKeySpread)
}

// seedKeys writes all benchmark keys of one test so reads have something to hit
func seedKeys(prefix string) {
	if shouldSkip(prefix) {
		return
	}
	for i := 0; i < perfKeySpread; i++ {
		ctx, cancel := opCtx()
		if _, err := rpcMap.Put(ctx, benchKey(prefix, i), []byte("test"), 0); err != nil {
			log.Printf("(%s) - error seeding key: %v\n", prefix, err)
		}
		cancel()
	}
}

// cleanupKeys removes all keys any benchmark may have written
func cleanupKeys() {
	for _, prefix := range []string{"put", "put-large", "get", "remove", "has", "mixed"} {
		for i := 0; i < perfKeySpread; i++ {
			ctx, cancel := opCtx()
			if _, err := rpcMap.Remove(ctx, benchKey(prefix, i)); err != nil {
				log.Printf("(%s) - error deleting key: %v\n", prefix, err)
			}
			cancel()
		}
	}
}

// runBenchmark hammers one operation from perfNumThreads goroutines for the
// configured duration and records every call in a timer
func runBenchmark(test string, op func(counter int) error) metrics.Timer {
	timer := metrics.NewTimer()
	defer timer.Stop()

	if shouldSkip(test) {
		printResult(test, timer)
		return timer
	}

	deadline := time.Now().Add(time.Duration(perfDurationSec) * time.Second)

	var wg sync.WaitGroup
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			counter := thread
			for time.Now().Before(deadline) {
				start := time.Now()
				if err := op(counter); err != nil {
					log.Printf("(%s) - operation failed: %v\n", test, err)
				}
				timer.UpdateSince(start)
				counter += perfNumThreads
			}
		}(t)
	}
	wg.Wait()

	printResult(test, timer)
	return timer
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, timer metrics.Timer) {
	if timer.Count() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-20s%d ops\t%.0f ops/sec\tp50=%s\tp95=%s\tp99=%s\n",
		test,
		timer.Count(),
		timer.RateMean(),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]metrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()

	// Write header
	header := []string{
		"Test", "Count", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "Skipped",
		"Endpoints", "TimeoutSec", "ConnectionsPerEndpoint",
		"ShardID", "Map", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count", "DurationSec",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, timer := range results {
		ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.RateMean()),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatBool(timer.Count() == 0),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			util.GetMapName(),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfDurationSec),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
