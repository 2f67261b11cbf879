package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storelink/catalog-console/internal/config"
	pkgsync "github.com/storelink/catalog-console/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <price|stock>",
	Short: "Run a sync pipeline from the command line",
	Long: `Run one sync pipeline to completion, printing progress events as they
arrive.

The price pipeline reads sku/price pairs from the file given with --items
(a JSON array of {"sku": ..., "price": ...} objects). The stock pipeline
needs no input; it fans out over the sources configured in the MDM.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("items", "", "Path to the price items JSON file (price sync only)")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func readPriceItems(path string) ([]pkgsync.PriceItem, error) {
	if path == "" {
		return nil, fmt.Errorf("--items is required for the price sync")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}
	var items []pkgsync.PriceItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse items file: %w", err)
	}
	return items, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	kind := pkgsync.Kind(args[0])
	if kind != pkgsync.KindPrice && kind != pkgsync.KindStock {
		return fmt.Errorf("unknown sync kind %q, want price or stock", args[0])
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	done := make(chan pkgsync.Event, 1)
	unsubscribe := deps.manager.Subscribe(func(ev pkgsync.Event) {
		slog.Info("sync progress",
			"job_id", ev.JobID,
			"state", ev.State,
			"percent", ev.Percent,
			"step", ev.CurrentStep,
			"steps_done", ev.StepsDone,
			"steps_total", ev.StepsTotal,
			"message", ev.Message)
		if ev.State.Terminal() {
			select {
			case done <- ev:
			default:
			}
		}
	})
	defer unsubscribe()

	switch kind {
	case pkgsync.KindPrice:
		itemsPath, err := cmd.Flags().GetString("items")
		if err != nil {
			return err
		}
		items, err := readPriceItems(itemsPath)
		if err != nil {
			return err
		}
		if _, err := deps.manager.StartPriceSync(items); err != nil {
			return err
		}
	case pkgsync.KindStock:
		if _, err := deps.manager.StartStockSync(); err != nil {
			return err
		}
	}

	final := <-done

	st, _ := deps.manager.Status(kind)
	output, err := json.MarshalIndent(st, "", "  ")
	if err == nil {
		fmt.Println(string(output))
	}

	if final.State != pkgsync.StateSuccess {
		return fmt.Errorf("sync finished in state %s: %s", final.State, final.Message)
	}
	return nil
}
