package parse

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"tidbyt.dev/transitrt/model"
)

type routeRecord struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Type      string `csv:"route_type"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

func legalRouteType(t model.RouteType) bool {
	switch t {
	case model.RouteTypeTram,
		model.RouteTypeSubway,
		model.RouteTypeRail,
		model.RouteTypeBus,
		model.RouteTypeFerry,
		model.RouteTypeCable,
		model.RouteTypeAerial,
		model.RouteTypeFunicular,
		model.RouteTypeTrolleybus,
		model.RouteTypeMonorail:
		return true
	}
	return false
}

// Six hex digits, empty meaning the given default.
func routeColor(column, color, def string) (string, error) {
	if color == "" {
		return def, nil
	}
	if _, err := hex.DecodeString(color); err != nil || len(color) != 6 {
		return "", fmt.Errorf("invalid %s: %s", column, color)
	}
	return color, nil
}

func (im *importer) readRoutes(data io.Reader) error {
	return eachRow(routesFile, data, func(r *routeRecord) error {
		if r.ID == "" {
			return fmt.Errorf("route has no route_id")
		}
		if im.routes[r.ID] {
			return fmt.Errorf("repeated route_id: '%s'", r.ID)
		}
		im.routes[r.ID] = true
		im.meta.NumRoutes++

		// agency_id is required when there are several agencies,
		// and must be known when given
		if r.AgencyID == "" && len(im.agencies) > 1 {
			return fmt.Errorf("route_id '%s' has no agency_id", r.ID)
		}
		if r.AgencyID != "" && !im.agencies[r.AgencyID] {
			return fmt.Errorf("unknown agency_id: '%s'", r.AgencyID)
		}

		if r.ShortName == "" && r.LongName == "" {
			return fmt.Errorf("route_id '%s' has no short_name or long_name", r.ID)
		}

		if r.Type == "" {
			return fmt.Errorf("route_id '%s' has no route_type", r.ID)
		}
		n, err := strconv.Atoi(r.Type)
		if err != nil {
			return fmt.Errorf("route_id '%s' has invalid route_type: %w", r.ID, err)
		}
		routeType := model.RouteType(n)
		if !legalRouteType(routeType) {
			return fmt.Errorf("route_id '%s' has invalid route_type: %d", r.ID, n)
		}

		// Defaults from the GTFS reference
		color, err := routeColor("route_color", r.Color, "FFFFFF")
		if err != nil {
			return fmt.Errorf("route_id '%s': %w", r.ID, err)
		}
		if _, err := routeColor("route_text_color", r.TextColor, "000000"); err != nil {
			return fmt.Errorf("route_id '%s': %w", r.ID, err)
		}

		if err := im.writer.WriteRoute(&model.Route{
			ID:        r.ID,
			AgencyID:  r.AgencyID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      routeType,
			Color:     color,
		}); err != nil {
			return fmt.Errorf("writing route: %w", err)
		}
		return nil
	})
}
