package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/pkg/codes"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

// registeredDeliveryRequested asks the SMSC for a final delivery receipt.
const registeredDeliveryRequested uint8 = 1

// refusal is a submit request rejected before anything was queued.
type refusal struct {
	status int
	reason string
}

func (r *refusal) Error() string { return r.reason }

func refuse(status int, format string, args ...any) error {
	return &refusal{status: status, reason: fmt.Sprintf(format, args...)}
}

// MessageHandler accepts MT messages from authenticated users, routes them
// through the MT routing table and queues them for the selected connector.
type MessageHandler struct {
	router     *router.Service
	connectors ConnectorManager
	stats      *stats.Registry
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMessageHandler(svc *router.Service, m ConnectorManager, registry *stats.Registry) *MessageHandler {
	if svc == nil || m == nil || registry == nil {
		panic("router service, connector manager and stats registry are required for MessageHandler")
	}
	return &MessageHandler{
		router:     svc,
		connectors: m,
		stats:      registry,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// allow applies the user's http_throughput quota (messages per second).
func (h *MessageHandler) allow(u *auth.User) bool {
	tp := u.MtCredential.Quotas.HTTPThroughput
	if tp == nil || *tp <= 0 {
		return true
	}
	limit := rate.Limit(*tp)
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[u.UID]
	if !ok {
		l = rate.NewLimiter(limit, max(1, int(math.Ceil(*tp))))
		h.limiters[u.UID] = l
	} else if l.Limit() != limit {
		l.SetLimitAt(h.now(), limit)
		l.SetBurstAt(h.now(), max(1, int(math.Ceil(*tp))))
	}
	return l.AllowN(h.now(), 1)
}

// submission is a validated request.
type submission struct {
	source     *string
	coding     uint8
	body       []byte
	priority   *uint8
	validity   *string
	expiration *time.Time
	dlr        *queue.DLRRequest
	tags       []string
}

func mustMatch(cred *auth.MtMessagingCredential, uid, key, value string) error {
	ok, err := cred.ValueFilterMatches(key, value)
	if err != nil {
		return refuse(http.StatusBadRequest, "Value filter failed for user [%s] (%v)", uid, err)
	}
	if !ok {
		return refuse(http.StatusBadRequest, "Value filter failed for user [%s] (%s filter mismatch)", uid, key)
	}
	return nil
}

func mustBeAuthorized(cred *auth.MtMessagingCredential, uid, key, what string) error {
	if !cred.IsAuthorized(key) {
		return refuse(http.StatusForbidden, "Authorization failed for user [%s] (%s)", uid, what)
	}
	return nil
}

// validate checks req against the user's MT credential and returns what to send.
func (h *MessageHandler) validate(u *auth.User, req *dto.SubmitSmRequest) (*submission, error) {
	cred := u.MtCredential
	uid := u.UID
	if err := mustBeAuthorized(cred, uid, "http_send", "Can not send MT messages"); err != nil {
		return nil, err
	}

	s := &submission{}
	if req.Coding != nil {
		s.coding = *req.Coding
	}

	var content string
	switch {
	case req.Content != nil && req.HexContent != nil:
		return nil, refuse(http.StatusBadRequest, "content and hex-content cannot be used both")
	case req.Content != nil:
		content = *req.Content
		b, err := smppclient.EncodeText(s.coding, content)
		if err != nil {
			return nil, refuse(http.StatusBadRequest, "content cannot be encoded with coding %d: %v", s.coding, err)
		}
		s.body = b
	case req.HexContent != nil:
		content = *req.HexContent
		b, err := hex.DecodeString(content)
		if err != nil {
			return nil, refuse(http.StatusBadRequest, "hex-content is not valid hexadecimal")
		}
		s.body = b
	default:
		return nil, refuse(http.StatusBadRequest, "content or hex-content is mandatory")
	}
	if len(s.body) > smppclient.MaxShortMessageLength {
		if err := mustBeAuthorized(cred, uid, "http_long_content", "Long content not authorized"); err != nil {
			return nil, err
		}
	}

	if err := mustMatch(cred, uid, "destination_address", req.To); err != nil {
		return nil, err
	}
	if err := mustMatch(cred, uid, "content", content); err != nil {
		return nil, err
	}

	if req.From != nil {
		if err := mustBeAuthorized(cred, uid, "set_source_address", "Setting source address not authorized"); err != nil {
			return nil, err
		}
		if err := mustMatch(cred, uid, "source_address", *req.From); err != nil {
			return nil, err
		}
		s.source = req.From
	} else if cred.Defaults.SourceAddress != nil {
		src := *cred.Defaults.SourceAddress
		s.source = &src
	}

	if req.Priority != nil {
		if err := mustBeAuthorized(cred, uid, "set_priority", "Setting priority not authorized"); err != nil {
			return nil, err
		}
		if err := mustMatch(cred, uid, "priority", fmt.Sprint(*req.Priority)); err != nil {
			return nil, err
		}
		if *req.Priority > 3 {
			return nil, refuse(http.StatusBadRequest, "priority must be between 0 and 3")
		}
		s.priority = req.Priority
	}

	if req.ValidityPeriod != nil {
		if err := mustBeAuthorized(cred, uid, "set_validity_period", "Setting validity period not authorized"); err != nil {
			return nil, err
		}
		if err := mustMatch(cred, uid, "validity_period", fmt.Sprint(*req.ValidityPeriod)); err != nil {
			return nil, err
		}
		if *req.ValidityPeriod <= 0 {
			return nil, refuse(http.StatusBadRequest, "validity-period must be a positive number of minutes")
		}
		exp := h.now().Add(time.Duration(*req.ValidityPeriod) * time.Minute).UTC()
		vp := exp.Format("060102150405") + "000+"
		s.validity = &vp
		s.expiration = &exp
	}

	dlr, err := dlrRequest(cred, uid, req)
	if err != nil {
		return nil, err
	}
	s.dlr = dlr

	for _, tag := range strings.Split(req.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			s.tags = append(s.tags, tag)
		}
	}
	return s, nil
}

func dlrRequest(cred *auth.MtMessagingCredential, uid string, req *dto.SubmitSmRequest) (*queue.DLRRequest, error) {
	switch strings.ToLower(req.DLR) {
	case "", "no":
		return nil, nil
	case "yes":
	default:
		return nil, refuse(http.StatusBadRequest, "dlr must be yes or no")
	}
	if req.DLRURL == "" {
		return nil, refuse(http.StatusBadRequest, "dlr-url is mandatory when dlr is yes")
	}
	d := &queue.DLRRequest{Level: 1, URL: req.DLRURL, Method: http.MethodPost}
	if req.DLRLevel != nil {
		if err := mustBeAuthorized(cred, uid, "set_dlr_level", "Setting dlr level not authorized"); err != nil {
			return nil, err
		}
		if *req.DLRLevel < 1 || *req.DLRLevel > 3 {
			return nil, refuse(http.StatusBadRequest, "dlr-level must be 1, 2 or 3")
		}
		d.Level = *req.DLRLevel
	}
	if req.DLRMethod != "" {
		if err := mustBeAuthorized(cred, uid, "set_dlr_method", "Setting dlr method not authorized"); err != nil {
			return nil, err
		}
		method := strings.ToUpper(req.DLRMethod)
		if method != http.MethodGet && method != http.MethodPost {
			return nil, refuse(http.StatusBadRequest, "dlr-method must be GET or POST")
		}
		d.Method = method
	}
	return d, nil
}

// pickStarted returns the first connector of res whose service is started.
func (h *MessageHandler) pickStarted(res *router.RouteResult) (string, bool) {
	for _, c := range res.Connectors {
		status, err := h.connectors.ServiceStatus(c.ID())
		if err == nil && status == codes.ServiceStarted {
			return c.ID(), true
		}
	}
	return "", false
}

// SubmitSm handles POST /submit_sm. Credentials are the sending user's, not
// the admin token.
func (h *MessageHandler) SubmitSm(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "SubmitSm")
	api := h.stats.API()
	_ = api.Inc(stats.SubmitSmRequestCount)
	_ = api.Set(stats.LastRequestAt, h.now())

	var req dto.SubmitSmRequest
	if err := c.ShouldBind(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.router.UserAuthenticate(logCtx, req.Username, req.Password)
	if err != nil {
		respondFailure(c, http.StatusForbidden, fmt.Sprintf("Authentication failure for username:%s", req.Username))
		return
	}
	logCtx = logging.ContextWithGroupID(logging.ContextWithUserID(logCtx, user.UID), user.GID)

	if !h.allow(user) {
		_ = api.Inc(stats.ThrottledCount)
		slog.InfoContext(logCtx, "User throughput exceeded")
		respondFailure(c, http.StatusForbidden, "User throughput exceeded")
		return
	}

	resp, err := h.submit(logCtx, user, &req)
	if err != nil {
		var r *refusal
		if errors.As(err, &r) {
			slog.InfoContext(logCtx, "submit_sm refused", slog.Int("status", r.status), slog.String("reason", r.reason))
			respondFailure(c, r.status, r.reason)
			return
		}
		_ = api.Inc(stats.RouteErrorCount)
		slog.ErrorContext(logCtx, "Cannot send submit_sm", slog.Any("error", err))
		respondFailure(c, http.StatusInternalServerError, "Cannot send submit_sm: "+err.Error())
		return
	}
	_ = api.Inc(stats.SubmitSmRoutedCount)
	respondOK(c, http.StatusOK, resp)
}

func (h *MessageHandler) submit(ctx context.Context, u *auth.User, req *dto.SubmitSmRequest) (*dto.SubmitSmResponse, error) {
	s, err := h.validate(u, req)
	if err != nil {
		return nil, err
	}

	routingPDU := &smpphelper.PDU{
		CommandID:       smpphelper.CommandSubmitSm,
		DestinationAddr: req.To,
		ShortMessage:    s.body,
		DataCoding:      &s.coding,
		PriorityFlag:    s.priority,
	}
	if s.source != nil {
		routingPDU.SourceAddr = *s.source
	}
	routable, err := routing.NewRoutableSubmitSm(routingPDU, u, routing.WithDateTime(h.now()), routing.WithTags(s.tags...))
	if err != nil {
		return nil, err
	}
	res, err := h.router.GetMTRoutes(routable)
	if errors.Is(err, router.ErrNoRoute) {
		_ = h.stats.API().Inc(stats.NoRouteCount)
		slog.InfoContext(ctx, "No MT route found", slog.String("to", req.To), slog.String("reason", "no_route"))
		return nil, refuse(http.StatusPreconditionFailed, "No route found")
	}
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithRouteOrder(ctx, res.Order)

	cid, ok := h.pickStarted(res)
	if !ok {
		return nil, fmt.Errorf("%w: no started connector on route %d", smppclient.ErrConnectorStopped, res.Order)
	}
	ctx = logging.ContextWithConnectorID(ctx, cid)

	factory, err := h.connectors.Factory(cid)
	if err != nil {
		return nil, err
	}
	sreq := smppclient.SubmitRequest{
		SourceAddr:      s.source,
		DestinationAddr: req.To,
		ShortMessage:    s.body,
		DataCoding:      &s.coding,
		PriorityFlag:    s.priority,
		ValidityPeriod:  s.validity,
	}
	if s.dlr != nil && s.dlr.Level > 1 {
		rd := registeredDeliveryRequested
		sreq.RegisteredDelivery = &rd
	}
	pdu, err := factory.BuildSubmit(sreq)
	if err != nil {
		return nil, refuse(http.StatusBadRequest, "Cannot build submit_sm: %v", err)
	}
	segments := len(pdu.Segments())

	bill, err := routing.BillFor(res.Route, u)
	if err != nil {
		return nil, err
	}
	if err := h.router.ChargeUserForSubmitSm(ctx, u.UID, bill, segments); err != nil {
		return nil, refuse(http.StatusForbidden, "Cannot charge submit_sm: %v", err)
	}

	content := &queue.SubmitSmContent{
		UID:             u.UID,
		ConnectorID:     cid,
		SourceConnector: queue.SourceHTTPAPI,
		Expiration:      s.expiration,
		PDU:             pdu,
		Bill:            bill,
		DLR:             s.dlr,
	}
	if s.priority != nil {
		content.Priority = *s.priority
	}
	msgID, err := h.connectors.Submit(ctx, content)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(logging.ContextWithMessageID(ctx, msgID), "submit_sm queued",
		slog.String("to", req.To), slog.Int("segments", segments))
	return &dto.SubmitSmResponse{MessageID: msgID, ConnectorID: cid, RouteOrder: res.Order, Segments: segments}, nil
}
