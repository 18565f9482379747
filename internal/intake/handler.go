package intake

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"brokerops/internal/constants"
	"brokerops/internal/logger"
	"brokerops/pkg/errors"
	"brokerops/pkg/metrics"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// Handler exposes the webhook intake endpoints and the queue inspection
// API. Signature verification and event-level dedup happen here, before
// anything reaches the batching queue.
type Handler struct {
	BaseHandler
	queue         *BatchQueue
	deduper       *EventDeduper
	signingSecret string
	bypassVerify  bool
}

func NewHandler(queue *BatchQueue, deduper *EventDeduper, signingSecret string, bypassVerify bool, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler:   BaseHandler{Logger: log},
		queue:         queue,
		deduper:       deduper,
		signingSecret: signingSecret,
		bypassVerify:  bypassVerify,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/slack", h.HandleSlackEvent)
		webhooks.POST("/sms", h.HandleSMSWebhook)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/queues", h.GetQueueStats)
	}
}

// HandleSlackEvent receives Slack Events API callbacks. Handled event
// shapes: url_verification (handshake echo) and event_callback message
// events. Everything else is acknowledged and ignored.
func (h *Handler) HandleSlackEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", "unreadable body"))
		return
	}

	if !h.bypassVerify {
		if err := h.verifySlackSignature(c.Request.Header, body); err != nil {
			h.Logger.WarnwCtx(c.Request.Context(), "Slack signature verification failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", "unparseable event"))
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			h.HandleError(c, errors.ErrValidation.WithCause(err))
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
		return

	case slackevents.CallbackEvent:
		h.handleSlackCallback(c, body, event)
		return

	default:
		c.Status(http.StatusOK)
	}
}

func (h *Handler) handleSlackCallback(c *gin.Context, body []byte, event slackevents.EventsAPIEvent) {
	ctx := c.Request.Context()

	// Slack redelivers the whole envelope on slow responses; the outer
	// event_id identifies the delivery.
	var envelope struct {
		EventID string `json:"event_id"`
	}
	_ = json.Unmarshal(body, &envelope)

	if !h.deduper.FirstDelivery(ctx, constants.SourceSlack, envelope.EventID) {
		h.Logger.InfowCtx(ctx, "Duplicate Slack delivery ignored", "event_id", envelope.EventID)
		metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSlack, "duplicate").Inc()
		c.Status(http.StatusOK)
		return
	}

	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSlack, "ignored").Inc()
		c.Status(http.StatusOK)
		return
	}
	// Edits, joins and bot posts never enter the queue.
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" {
		metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSlack, "ignored").Inc()
		c.Status(http.StatusOK)
		return
	}

	msg := InboundMessage{
		ExternalID:   ev.TimeStamp,
		SourceUserID: ev.User,
		ChannelID:    ev.Channel,
		Source:       constants.SourceSlack,
		Text:         ev.Text,
		ThreadRef:    ev.ThreadTimeStamp,
		ReceivedAt:   slackTimestamp(ev.TimeStamp),
	}

	if err := h.queue.Enqueue(msg); err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSlack, "accepted").Inc()
	c.Status(http.StatusOK)
}

// verifySlackSignature checks the v0 HMAC signature and rejects stale
// timestamps to block replays.
func (h *Handler) verifySlackSignature(header http.Header, body []byte) error {
	ts := header.Get("X-Slack-Request-Timestamp")
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.ErrUnauthorized.WithDetail("message", "missing request timestamp")
	}
	skew := time.Since(time.Unix(unix, 0))
	if skew > constants.SlackRequestMaxSkew || skew < -constants.SlackRequestMaxSkew {
		return errors.ErrUnauthorized.WithDetail("message", "request timestamp outside tolerance")
	}

	verifier, err := slack.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		return errors.ErrUnauthorized.WithCause(err)
	}
	if _, err := verifier.Write(body); err != nil {
		return errors.ErrInternal.WithCause(err)
	}
	if err := verifier.Ensure(); err != nil {
		return errors.ErrUnauthorized.WithCause(err)
	}
	return nil
}

// HandleSMSWebhook receives Twilio-style form posts. The MessageSid is
// the external id; From doubles as the sender and, with To, the channel.
func (h *Handler) HandleSMSWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sid := c.PostForm("MessageSid")
	from := c.PostForm("From")
	to := c.PostForm("To")
	text := c.PostForm("Body")
	if sid == "" || from == "" || text == "" {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "MessageSid, From and Body are required"))
		return
	}

	if !h.deduper.FirstDelivery(ctx, constants.SourceSMS, sid) {
		h.Logger.InfowCtx(ctx, "Duplicate SMS delivery ignored", "message_sid", sid)
		metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSMS, "duplicate").Inc()
		c.Status(http.StatusOK)
		return
	}

	msg := InboundMessage{
		ExternalID:   sid,
		SourceUserID: from,
		ChannelID:    smsChannel(from, to),
		Source:       constants.SourceSMS,
		Text:         text,
		ReceivedAt:   time.Now(),
	}

	if err := h.queue.Enqueue(msg); err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(constants.SourceSMS, "accepted").Inc()
	c.Status(http.StatusOK)
}

// GetQueueStats reports the open-batch index for operations debugging.
func (h *Handler) GetQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// slackTimestamp converts Slack's "1712345678.000200" message timestamp
// into wall-clock time, falling back to now on garbage.
func slackTimestamp(ts string) time.Time {
	secs, _, ok := strings.Cut(ts, ".")
	if !ok {
		secs = ts
	}
	unix, err := strconv.ParseInt(secs, 10, 64)
	if err != nil || unix <= 0 {
		return time.Now()
	}
	return time.Unix(unix, 0)
}

func smsChannel(from, to string) string {
	if to == "" {
		return from
	}
	return to
}
