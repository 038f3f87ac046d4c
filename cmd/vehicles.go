package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/transitrt/model"
)

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles <feed>...",
	Short: "Loads GTFS-realtime vehicle position feeds and lists vehicles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  vehicles,
}

var (
	vehicleRouteID  string
	vehicleTripID   string
	vehicleAgencyID string
	vehicleBBox     string
)

func init() {
	vehiclesCmd.Flags().StringVarP(&vehicleRouteID, "route", "r", "", "Restrict to a specific route")
	vehiclesCmd.Flags().StringVarP(&vehicleTripID, "trip", "t", "", "Vehicle serving a specific trip")
	vehiclesCmd.Flags().StringVarP(&vehicleAgencyID, "agency", "a", "", "Agency the feed belongs to")
	vehiclesCmd.Flags().StringVarP(&vehicleBBox, "bbox", "b", "", "Restrict to an area: min_lat,min_lon,max_lat,max_lon")
}

func parseBBox(s string) (model.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BoundingBox{}, fmt.Errorf("'%s' is not on form min_lat,min_lon,max_lat,max_lon", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BoundingBox{}, fmt.Errorf("parsing '%s': %w", p, err)
		}
		vals[i] = v
	}
	return model.BoundingBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}, nil
}

func vehicles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	agencyID := vehicleAgencyID
	if agencyID == "" {
		agencyID = cfg.Realtime.AgencyID
	}

	engine, err := LoadEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	feeds, err := readFeeds(ctx, args)
	if err != nil {
		return err
	}

	accepted, err := engine.AddVehiclePositions(ctx, feeds, agencyID)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d vehicles\n", accepted)

	var locs []model.VehicleLocation
	switch {
	case vehicleTripID != "":
		if loc, ok := engine.Vehicles.ForTrip(vehicleTripID); ok {
			locs = append(locs, loc)
		}
	case vehicleRouteID != "":
		locs = engine.Vehicles.ForRoute(vehicleRouteID)
	case vehicleBBox != "":
		bb, err := parseBBox(vehicleBBox)
		if err != nil {
			return err
		}
		locs = engine.Vehicles.ForArea(bb)
	default:
		locs = engine.Vehicles.All()
	}

	for _, loc := range locs {
		fmt.Printf(
			"%s %s %s %.5f,%.5f %s %s\n",
			loc.VehicleID,
			loc.RouteID,
			loc.TripID,
			loc.Lat,
			loc.Lon,
			loc.Status,
			loc.Timestamp.Format("15:04:05"),
		)
	}

	return nil
}
