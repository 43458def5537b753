package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// errStop ends a stream from inside a handler without reporting an error.
var errStop = errors.New("stop streaming")

// FundEvent is a transaction state change streamed by the server.
type FundEvent struct {
	Type        string    `json:"type"` // submitted, confirmed or failed
	Kind        string    `json:"kind"`
	Hash        string    `json:"hash"`
	Fund        string    `json:"fund,omitempty"`
	From        string    `json:"from"`
	Amount      string    `json:"amount"`
	PeriodDays  string    `json:"period_days,omitempty"`
	BlockNumber *int64    `json:"block_number,omitempty"`
	Error       string    `json:"error,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Stream subscribes to fund events and calls handler for each one until
// ctx is done, the server closes the stream or handler returns an error.
// An empty fund streams events for every fund.
func (c *Client) Stream(ctx context.Context, fund string, handler func(*FundEvent) error) error {
	u := c.baseURL + "/api/v1/stream/funds"
	if fund != "" {
		u += "/" + url.PathEscape(fund)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams stay open; only ctx bounds them.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("connected to fund stream", "fund", fund)

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if currentEvent == "fund" && currentData != "" {
				var event FundEvent
				if err := json.Unmarshal([]byte(currentData), &event); err != nil {
					c.logger.Warn("failed to decode fund event", "error", err)
				} else if err := handler(&event); err != nil {
					return err
				}
			}
			currentEvent, currentData = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Await blocks until an event on fund's stream satisfies matcher and
// returns it. It fails when ctx is done or the stream ends first.
func (c *Client) Await(ctx context.Context, fund string, matcher func(*FundEvent) bool) (*FundEvent, error) {
	var found *FundEvent
	err := c.Stream(ctx, fund, func(event *FundEvent) error {
		if matcher(event) {
			found = event
			return errStop
		}
		return nil
	})
	if found != nil {
		return found, nil
	}
	if err == nil {
		return nil, errors.New("stream closed before a matching event arrived")
	}
	return nil, err
}

// AwaitHash waits for the confirmed or failed event of one transaction.
func (c *Client) AwaitHash(ctx context.Context, fund, hash string) (*FundEvent, error) {
	return c.Await(ctx, fund, func(e *FundEvent) bool {
		return strings.EqualFold(e.Hash, hash) && e.Type != "submitted"
	})
}
