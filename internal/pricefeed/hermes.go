package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// HermesClient fetches price readings and update payloads from a Pyth Hermes
// endpoint over HTTP.
type HermesClient struct {
	baseURL string
	http    *http.Client
}

// NewHermesClient creates a client for the given Hermes base URL, e.g.
// "https://hermes.pyth.network".
func NewHermesClient(baseURL string, timeout time.Duration) *HermesClient {
	return &HermesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// hermesPrice mirrors the price object in Hermes responses. Price and conf
// arrive as decimal strings.
type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// hermesFeed mirrors one entry of the latest_price_feeds response.
type hermesFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

// LatestReadings fetches the latest readings for the given feed IDs.
func (c *HermesClient) LatestReadings(ctx context.Context, feedIDs []string) ([]domain.PriceReading, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", strings.TrimPrefix(id, "0x"))
	}
	endpoint := c.baseURL + "/api/latest_price_feeds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("hermes: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hermes: fetch latest price feeds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hermes: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var feeds []hermesFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return nil, fmt.Errorf("hermes: decode response: %w", err)
	}

	readings := make([]domain.PriceReading, 0, len(feeds))
	for _, f := range feeds {
		reading, err := f.toReading()
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// FetchUpdate fetches the latest readings for the feed IDs and encodes them
// as an update payload for the Oracle, returning both.
func (c *HermesClient) FetchUpdate(ctx context.Context, feedIDs ...string) ([]domain.PriceReading, domain.UpdatePayload, error) {
	readings, err := c.LatestReadings(ctx, feedIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(readings) == 0 {
		return nil, nil, fmt.Errorf("hermes: no readings returned: %w", domain.ErrStalePrice)
	}
	payload, err := EncodeUpdate(readings...)
	if err != nil {
		return nil, nil, err
	}
	return readings, payload, nil
}

func (f hermesFeed) toReading() (domain.PriceReading, error) {
	price, err := strconv.ParseInt(f.Price.Price, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("hermes: parse price for %s: %w", f.ID, err)
	}
	conf, err := strconv.ParseUint(f.Price.Conf, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("hermes: parse conf for %s: %w", f.ID, err)
	}

	id := f.ID
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}

	return domain.PriceReading{
		FeedID:      id,
		Price:       price,
		Conf:        conf,
		Expo:        f.Price.Expo,
		PublishTime: time.Unix(f.Price.PublishTime, 0).UTC(),
	}, nil
}
