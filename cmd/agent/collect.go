package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/herbtrace/herbtrace/internal/localstore"
	"github.com/herbtrace/herbtrace/internal/location"
	"github.com/herbtrace/herbtrace/internal/record"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Record one collection observation in the local store",
	Long: `Records a new observation as pending sync. A position fix is required:
if no location source is available the capture is refused outright,
there is no degraded no-location mode.`,
	RunE: runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.String("category", "", "herb type collected (required)")
	f.Float64("quantity", 0, "quantity in kilograms (required)")
	f.StringSlice("photo", nil, "image file to embed (repeatable)")
	f.Float64("lat", 0, "configured site latitude")
	f.Float64("lon", 0, "configured site longitude")
	_ = collectCmd.MarkFlagRequired("category")
	_ = collectCmd.MarkFlagRequired("quantity")

	rootCmd.AddCommand(collectCmd)
}

// locationProvider picks the device's position source. Only a
// configured static site position is supported today; a GPS-backed
// provider would slot in behind the same interface.
func locationProvider(cmd *cobra.Command) (location.Provider, error) {
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
		return nil, location.ErrUnavailable
	}
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	return location.Static{Fix: record.Location{Latitude: lat, Longitude: lon}}, nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	collectorID := viper.GetString("collector-id")
	if collectorID == "" {
		return fmt.Errorf("collector-id is required (flag, env, or config file)")
	}

	provider, err := locationProvider(cmd)
	if err != nil {
		return fmt.Errorf("cannot start capture: %w", err)
	}
	fix, err := provider.Current(ctx)
	if err != nil {
		return fmt.Errorf("cannot start capture: %w", err)
	}

	category, _ := cmd.Flags().GetString("category")
	quantity, _ := cmd.Flags().GetFloat64("quantity")
	photoPaths, _ := cmd.Flags().GetStringSlice("photo")

	photos := make([]string, 0, len(photoPaths))
	for _, p := range photoPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read photo %s: %w", p, err)
		}
		photos = append(photos, base64.StdEncoding.EncodeToString(data))
	}

	rec := &record.CollectionRecord{
		ID:          uuid.New().String(),
		CollectorID: collectorID,
		Category:    category,
		Quantity:    quantity,
		Photos:      photos,
		Location:    &fix,
		Timestamp:   time.Now().UTC(),
		SyncState:   record.StatePending,
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	store, err := localstore.Open(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	if err := store.Save(ctx, rec); err != nil {
		return err
	}

	log.Info().
		Str("recordId", rec.ID).
		Str("category", rec.Category).
		Float64("quantity", rec.Quantity).
		Int("photos", len(rec.Photos)).
		Msg("observation recorded, pending sync")

	fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
	return nil
}
