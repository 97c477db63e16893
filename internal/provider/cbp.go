package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const cbpAPIURL = "https://bwt.cbp.gov/api/bwt/current"

// PopularCrossings is returned as a hint when a lookup misses.
var PopularCrossings = []string{
	"San Ysidro",
	"Otay Mesa",
	"El Paso",
	"Laredo",
	"Nogales",
	"Calexico",
	"Brownsville",
	"McAllen",
}

// cbpPort mirrors the fields we use from the CBP Border Wait Times feed.
// Numeric values arrive as strings.
type cbpPort struct {
	PortName     string `json:"portName"`
	CrossingName string `json:"crossingName"`
	PortStatus   string `json:"portStatus"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Passenger    struct {
		StandardLanes struct {
			DelayMinutes string `json:"delay_minutes"`
			LanesOpen    string `json:"lanes_open"`
		} `json:"standard_lanes"`
	} `json:"passenger"`
}

// BorderWaitProvider fetches US-Mexico crossing wait times from the public
// CBP feed.
type BorderWaitProvider struct {
	client  *http.Client
	baseURL string
	log     *zap.Logger
}

func NewBorderWaitProvider(log *zap.Logger) *BorderWaitProvider {
	return &BorderWaitProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: cbpAPIURL,
		log:     log,
	}
}

func (p *BorderWaitProvider) Fetch(ctx context.Context, target string, params map[string]string) (map[string]any, error) {
	if target != TargetBorderWait {
		return nil, fmt.Errorf("%w: unknown target %q", ErrNotFound, target)
	}
	crossing := strings.ToLower(strings.TrimSpace(params["crossing"]))
	if crossing == "" {
		return nil, fmt.Errorf("%w: crossing parameter is required", ErrNotFound)
	}

	ports, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, port := range ports {
		if strings.Contains(strings.ToLower(port.PortName), crossing) ||
			strings.Contains(strings.ToLower(port.CrossingName), crossing) {
			return portResult(port), nil
		}
	}
	return nil, fmt.Errorf("%w: no crossing matches %q", ErrNotFound, params["crossing"])
}

// ListCrossings returns the distinct port names currently in the feed.
func (p *BorderWaitProvider) ListCrossings(ctx context.Context) ([]string, error) {
	ports, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ports))
	var names []string
	for _, port := range ports {
		if port.PortName == "" {
			continue
		}
		if _, ok := seen[port.PortName]; ok {
			continue
		}
		seen[port.PortName] = struct{}{}
		names = append(names, port.PortName)
	}
	sort.Strings(names)
	return names, nil
}

func (p *BorderWaitProvider) fetchAll(ctx context.Context) ([]cbpPort, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("cbp feed unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.log.Warn("cbp feed returned error", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: cbp feed status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var ports []cbpPort
	if err := json.NewDecoder(resp.Body).Decode(&ports); err != nil {
		return nil, fmt.Errorf("%w: malformed cbp response: %v", ErrSourceUnavailable, err)
	}
	return ports, nil
}

func portResult(port cbpPort) map[string]any {
	wait := parseFeedInt(port.Passenger.StandardLanes.DelayMinutes)
	status := port.PortStatus
	if status == "" {
		if port.Passenger.StandardLanes.DelayMinutes == "" {
			status = "Closed/No Data"
		} else {
			status = "Open"
		}
	}
	return map[string]any{
		"crossing":          port.PortName,
		"specific_lane":     port.CrossingName,
		"wait_time_minutes": wait,
		"lanes_open":        parseFeedInt(port.Passenger.StandardLanes.LanesOpen),
		"status":            status,
		"last_updated":      strings.TrimSpace(port.Date + " " + port.Time),
		"source":            "CBP",
		"verified":          true,
	}
}

func parseFeedInt(s string) float64 {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return float64(n)
}
