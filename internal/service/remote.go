package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// Submitter hands a checkout snapshot to an external backend and returns
// its acknowledgement
type Submitter interface {
	Submit(ctx context.Context, req RemoteRequest) (map[string]any, error)
}

// RemoteRequest is the body posted to the checkout endpoint
type RemoteRequest struct {
	Cart      []RemoteLineItem `json:"cart"`
	Totals    RemoteTotals     `json:"totals"`
	Timestamp time.Time        `json:"timestamp"`
}

type RemoteLineItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
	SKU      string      `json:"sku"`
	Image    string      `json:"image"`
}

type RemoteTotals struct {
	Subtotal  json.Number `json:"subtotal"`
	Tax       json.Number `json:"tax"`
	Shipping  json.Number `json:"shipping"`
	Total     json.Number `json:"total"`
	ItemCount int         `json:"itemCount"`
}

// NewRemoteRequest renders a session as the wire body. Money goes out as
// JSON numbers with two decimals.
func NewRemoteRequest(s *Session) RemoteRequest {
	items := make([]RemoteLineItem, len(s.Items))
	for i, item := range s.Items {
		items[i] = RemoteLineItem{
			ID:       item.ProductID,
			Name:     item.Name,
			Price:    json.Number(item.Price.StringFixed(2)),
			Quantity: item.Quantity,
			SKU:      item.SKU,
			Image:    item.Image,
		}
	}
	return RemoteRequest{
		Cart: items,
		Totals: RemoteTotals{
			Subtotal:  json.Number(s.Totals.Subtotal.StringFixed(2)),
			Tax:       json.Number(s.Totals.Tax.StringFixed(2)),
			Shipping:  json.Number(s.Totals.Shipping.StringFixed(2)),
			Total:     json.Number(s.Totals.Total.StringFixed(2)),
			ItemCount: s.Totals.ItemCount,
		},
		Timestamp: s.StartedAt,
	}
}

// HTTPSubmitter posts checkout requests as JSON
type HTTPSubmitter struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHTTPSubmitter creates a submitter for endpoint. A zero timeout leaves
// the deadline to the caller's context.
func NewHTTPSubmitter(client *http.Client, endpoint string, timeout time.Duration) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubmitter{
		client:   client,
		endpoint: endpoint,
		timeout:  timeout,
		logger:   util.GetLogger(),
	}
}

// Submit posts req and decodes the acknowledgement. Any transport error,
// non-2xx status or a reply that is not a JSON object is a
// *models.RemoteCheckoutError.
func (s *HTTPSubmitter) Submit(ctx context.Context, req RemoteRequest) (map[string]any, error) {
	ctx, span := util.StartSpan(ctx, "HTTPSubmitter.Submit")
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		util.RemoteSubmitLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &models.RemoteCheckoutError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &models.RemoteCheckoutError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &models.RemoteCheckoutError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.RemoteCheckoutError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("Remote checkout rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return nil, &models.RemoteCheckoutError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	var ack map[string]any
	if err := json.Unmarshal(raw, &ack); err != nil || ack == nil {
		return nil, &models.RemoteCheckoutError{StatusCode: resp.StatusCode, Err: errors.New("response is not an acknowledgement object")}
	}
	return ack, nil
}
