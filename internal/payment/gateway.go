package payment

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"bbpayments-be/internal/lock"
	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/metrics"
	"bbpayments-be/internal/order"

	"go.uber.org/zap"
)

// Gateway is the redirect + asynchronous confirmation payment flow.
type Gateway interface {
	BuildRedirect(ctx context.Context, o *order.Order) (*RedirectResult, error)
	HandleNotification(ctx context.Context, n Notification) (*Result, error)
}

type BBGateway struct {
	settings Settings
	builder  *RequestBuilder
	verifier *Verifier
	log      NotificationLog
	metrics  *metrics.Metrics
}

type GatewayDeps struct {
	Orders     order.Repository
	Log        NotificationLog
	Locker     lock.Locker
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// ----------------- Constructor -----------------

func NewGateway(settings Settings, deps GatewayDeps) (*BBGateway, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if settings.InsecureSkipVerify {
		logger.L().Warn("TLS verification of the confirmation endpoint is disabled",
			zap.String("confirm_url", settings.ConfirmURL))
	}

	client := deps.HTTPClient
	if client == nil {
		client = NewHTTPClient(settings)
	}

	var confirmer Confirmer
	switch settings.Protocol {
	case ProtocolRoundTrip:
		confirmer = NewRoundTripConfirmer(settings.ConfirmURL, client)
	case ProtocolEncrypted:
		c, err := NewEncryptedConfirmer(settings.ConfirmURL, settings.PublicKeyPEM, client)
		if err != nil {
			return nil, fmt.Errorf("payment: %w", err)
		}
		confirmer = c
	}

	return &BBGateway{
		settings: settings,
		builder:  NewRequestBuilder(settings),
		verifier: NewVerifier(settings, deps.Orders, confirmer, deps.Locker, deps.Metrics),
		log:      deps.Log,
		metrics:  deps.Metrics,
	}, nil
}

// NewHTTPClient returns the client used for confirmation calls. A stalled
// payment party surfaces as a transport failure after ConfirmTimeout.
func NewHTTPClient(settings Settings) *http.Client {
	settings = settings.withDefaults()
	client := &http.Client{Timeout: settings.ConfirmTimeout}
	if settings.InsecureSkipVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		client.Transport = transport
	}
	return client
}

func (g *BBGateway) Settings() Settings {
	return g.settings
}

// ----------------- BuildRedirect -----------------

func (g *BBGateway) BuildRedirect(ctx context.Context, o *order.Order) (*RedirectResult, error) {
	res, err := g.builder.ProcessPayment(ctx, o)
	if err != nil {
		g.metrics.Redirect("error")
		return nil, err
	}
	g.metrics.Redirect("ok")
	return res, nil
}

// ----------------- HandleNotification -----------------

func (g *BBGateway) HandleNotification(ctx context.Context, n Notification) (*Result, error) {
	log := logger.FromCtx(ctx)

	if g.settings.InsecureSkipVerify && n.Channel == ChannelBBPayments && g.settings.Protocol != ProtocolDirect {
		log.Warn("confirming notification without TLS verification")
	}

	var (
		logID  int64
		logged bool
	)
	if g.log != nil && len(n.Fields) > 0 {
		id, dup, err := g.log.SaveNotification(ctx, n.Channel, correlationField(n), n.Raw)
		if err != nil {
			log.Error("failed to record notification", zap.Error(err))
		} else {
			logID, logged = id, true
			if dup {
				log.Info("duplicate notification received", zap.Int64("notification_id", id))
			}
		}
	}

	res, verr := g.verifier.Verify(ctx, n)

	if logged {
		var err error
		if verr != nil {
			err = g.log.MarkFailed(ctx, logID, res.State, verr.Error())
		} else {
			err = g.log.MarkProcessed(ctx, logID, res.State)
		}
		if err != nil {
			log.Error("failed to update notification log", zap.Int64("notification_id", logID), zap.Error(err))
		}
	}

	return res, verr
}

func correlationField(n Notification) string {
	if n.Channel == ChannelStructured {
		return n.Fields.Get(FieldCustom)
	}
	return n.Fields.Get(FieldUserKey)
}
