package webhook

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"
	"crm-telephony/pkg/utils"
)

// Signature header names accepted from the provider. Deployments have
// shipped both spellings.
const (
	headerSignature = "X-Webhook-Signature"
	headerSecret    = "X-Webhook-Secret"
)

const callClaimTTL = 15 * time.Second

// Handler is the inbound webhook endpoint. Contract with the provider:
// respond HTTP 200 no matter what went wrong internally, otherwise the
// provider retries and amplifies the failure. The lone exception is a
// bad signature in strict mode, which is answered 401.
type Handler struct {
	resolver   *Resolver
	reconciler *calls.Reconciler
	audit      *audit.Service
	metrics    *metrics.WebhookMetrics
	rdb        *redis.Client
	cfg        config.WebhookConfig
}

func NewHandler(resolver *Resolver, reconciler *calls.Reconciler, auditSvc *audit.Service, m *metrics.WebhookMetrics, rdb *redis.Client, cfg config.WebhookConfig) *Handler {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Handler{
		resolver:   resolver,
		reconciler: reconciler,
		audit:      auditSvc,
		metrics:    m,
		rdb:        rdb,
		cfg:        cfg,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/call-events", func(c *gin.Context) { h.handle(c, false) })
	r.POST("/webhooks/inbound", func(c *gin.Context) { h.handle(c, true) })
}

type response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CallLogID string `json:"callLogId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handle processes one delivery. forceInbound is set on the dedicated
// inbound route, where the gateway does not send direction fields.
func (h *Handler) handle(c *gin.Context, forceInbound bool) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveLatency(time.Since(start).Seconds())
	}()

	log := logger.FromGin(c)
	ctx := logger.With(c.Request.Context(), log)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error("read webhook body", "error", err)
		c.JSON(http.StatusOK, response{Success: false, Message: "event received", Error: "unreadable body"})
		return
	}

	sig := c.GetHeader(headerSignature)
	if sig == "" {
		sig = c.GetHeader(headerSecret)
	}
	sigOK := VerifySignature(body, sig, h.cfg.Secret)
	if !sigOK {
		h.metrics.ObserveSignatureFailure()
		log.Warn("webhook signature verification failed", "strict", h.cfg.StrictSignature)
		if h.cfg.StrictSignature {
			h.appendAudit(c, audit.Delivery{SignatureOK: false, Error: "invalid signature", Payload: body})
			c.JSON(http.StatusUnauthorized, response{Success: false, Message: "invalid signature", Error: "invalid signature"})
			return
		}
		// Permissive mode keeps processing; the failure is recorded
		// for operators.
	}

	ev, err := h.resolver.Resolve(body)
	if err != nil {
		log.Error("resolve webhook payload", "error", err)
		h.appendAudit(c, audit.Delivery{SignatureOK: sigOK, Error: err.Error(), Payload: body})
		c.JSON(http.StatusOK, response{Success: false, Message: "event received", Error: "unparseable payload"})
		return
	}
	if forceInbound {
		ev.Direction = calls.DirectionInbound
		if ev.CallerID != "" {
			ev.CounterpartyPhone = ev.CallerID
		}
	}

	release := h.claimCall(c, ev.ProviderCallID)
	rec, err := h.reconciler.Reconcile(ctx, ev)
	release()

	delivery := audit.Delivery{
		EventType:      ev.EventType,
		ProviderCallID: ev.ProviderCallID,
		Direction:      string(ev.Direction),
		Status:         ev.RawStatus,
		SignatureOK:    sigOK,
		Payload:        body,
	}

	switch {
	case err == nil:
		h.metrics.ObserveEvent(string(rec.Direction), string(rec.Status))
		h.appendAudit(c, delivery)
		c.JSON(http.StatusOK, response{Success: true, Message: "event processed", CallLogID: rec.ID})
	case errors.Is(err, calls.ErrNoMatchingLead):
		delivery.Error = err.Error()
		h.appendAudit(c, delivery)
		log.Info("webhook event without matching lead", "provider_call_id", ev.ProviderCallID)
		c.JSON(http.StatusOK, response{Success: false, Message: "no matching lead", Error: err.Error()})
	default:
		h.metrics.ObserveReconcileError()
		delivery.Error = err.Error()
		h.appendAudit(c, delivery)
		log.Error("reconcile webhook event", "provider_call_id", ev.ProviderCallID, "error", err)
		c.JSON(http.StatusOK, response{Success: false, Message: "event received", Error: err.Error()})
	}
}

// claimCall serializes concurrent deliveries for the same call through
// a short redis lock. Best-effort: if redis is down or the claim is
// held past one retry, processing proceeds anyway and relies on the
// uniqueness constraint in the store.
func (h *Handler) claimCall(c *gin.Context, providerCallID string) func() {
	if h.rdb == nil || providerCallID == "" {
		return func() {}
	}
	ctx := c.Request.Context()
	key := "webhook:call_claim:" + providerCallID
	owner := uuid.NewString()

	ok, err := utils.AcquireCallClaim(ctx, h.rdb, key, owner, callClaimTTL)
	if err != nil {
		logger.FromGin(c).Warn("call claim unavailable", "error", err)
		return func() {}
	}
	if !ok {
		time.Sleep(200 * time.Millisecond)
		ok, err = utils.AcquireCallClaim(ctx, h.rdb, key, owner, callClaimTTL)
		if err != nil || !ok {
			return func() {}
		}
	}
	return func() {
		if err := utils.ReleaseCallClaim(ctx, h.rdb, key, owner); err != nil {
			logger.FromGin(c).Warn("release call claim", "key", key, "error", err)
		}
	}
}

func (h *Handler) appendAudit(c *gin.Context, d audit.Delivery) {
	if err := h.audit.Append(c.Request.Context(), d); err != nil {
		logger.FromGin(c).Warn("append webhook audit record", "error", err)
	}
}
