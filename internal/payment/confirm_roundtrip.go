package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bbpayments-be/internal/logger"

	"go.uber.org/zap"
)

const maxConfirmBody = 64 << 10

// RoundTripConfirmer confirms with a GET to the confirmation URL.
type RoundTripConfirmer struct {
	confirmURL string
	client     *http.Client
}

func NewRoundTripConfirmer(confirmURL string, client *http.Client) *RoundTripConfirmer {
	return &RoundTripConfirmer{confirmURL: confirmURL, client: client}
}

func (c *RoundTripConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	sep := "?"
	if strings.Contains(c.confirmURL, "?") {
		sep = "&"
	}
	target := c.confirmURL + sep + req.args().Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConfirmationTransport, err)
	}

	log := logger.FromCtx(ctx)
	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Error("confirmation request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", ErrConfirmationTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfirmBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrConfirmationTransport, err)
	}

	log.Info("confirmation response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("confirmation endpoint returned non-2xx", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: status %d", ErrConfirmationTransport, resp.StatusCode)
	}

	return newConfirmation(ParseResponseBody(string(body))), nil
}
