package fulfillment

import (
	"context"
	stderrors "errors"
	"time"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/common/validation"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/notify"
	"storefront-fulfillment/internal/payment"
	"storefront-fulfillment/internal/storage"
)

// SignatureVerifier authenticates both confirmation paths
type SignatureVerifier interface {
	VerifyPayment(orderRef, paymentRef, signature string) error
	VerifyWebhook(body []byte, signature string) error
}

// Dispatcher hands an admitted order to the background pipeline
type Dispatcher interface {
	Dispatch(ctx context.Context, order *models.Order) error
	Close(ctx context.Context) error
}

// DirectConfirmation is what the browser relays after checkout
type DirectConfirmation struct {
	OrderRef   string
	PaymentRef string
	Signature  string
	Customer   models.Customer
	Address    models.Address
	Items      []models.LineItem
	Total      int64
}

// Admission is the result of an idempotent admit
type Admission struct {
	Order *models.Order
	// Replay is true when the order already existed for the payment
	Replay bool
}

// WebhookOutcome tells the webhook adapter which acknowledgement to send
type WebhookOutcome string

const (
	WebhookIgnored  WebhookOutcome = "ignored"
	WebhookReplay   WebhookOutcome = "replay"
	WebhookAdmitted WebhookOutcome = "admitted"
)

type WebhookResult struct {
	Outcome WebhookOutcome
	Order   *models.Order
}

// Options tune the orchestrator
type Options struct {
	PaymentFetchTimeout time.Duration
	// FailureNoticeTimeout bounds the asynchronous failure notice
	FailureNoticeTimeout time.Duration
}

// Deps are the orchestrator collaborators
type Deps struct {
	Store      storage.Store
	Verifier   SignatureVerifier
	Payments   payment.Fetcher
	Dispatcher Dispatcher
	Notifier   notify.Notifier
}

// Orchestrator owns ingress semantics: verify, admit exactly once, then hand
// new orders to the dispatcher.
type Orchestrator struct {
	store      storage.Store
	verifier   SignatureVerifier
	payments   payment.Fetcher
	dispatcher Dispatcher
	notifier   notify.Notifier
	opts       Options
	logger     logging.Logger
}

func NewOrchestrator(deps Deps, opts Options, logger logging.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.ConfigError("orchestrator requires a store")
	}
	if deps.Verifier == nil {
		return nil, errors.ConfigError("orchestrator requires a signature verifier")
	}
	if deps.Dispatcher == nil {
		return nil, errors.ConfigError("orchestrator requires a dispatcher")
	}
	if opts.PaymentFetchTimeout <= 0 {
		opts.PaymentFetchTimeout = 10 * time.Second
	}
	if opts.FailureNoticeTimeout <= 0 {
		opts.FailureNoticeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		store:      deps.Store,
		verifier:   deps.Verifier,
		payments:   deps.Payments,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		opts:       opts,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "orchestrator"}),
	}, nil
}

// ConfirmDirect handles a browser-relayed confirmation. The signature is
// checked before anything else; on a replay nothing is re-run.
func (o *Orchestrator) ConfirmDirect(ctx context.Context, req DirectConfirmation) (*Admission, error) {
	ctx = logging.ContextWithOrder(ctx, "", req.PaymentRef)
	logger := o.logger.WithContext(ctx)

	if err := o.verifier.VerifyPayment(req.OrderRef, req.PaymentRef, req.Signature); err != nil {
		return nil, err
	}

	existing, err := o.lookup(ctx, req.PaymentRef)
	if err != nil {
		o.noticeFailure(ctx, req.Customer, req.PaymentRef, err)
		return nil, err
	}
	if existing != nil {
		logger.Info("Payment already admitted", logging.Field{Key: "order_id", Value: existing.ID})
		return &Admission{Order: existing, Replay: true}, nil
	}

	payload := &models.OrderPayload{
		Customer:        req.Customer,
		Address:         req.Address,
		Items:           req.Items,
		Total:           req.Total,
		PaymentMethod:   payment.MethodUnknown,
		ProviderOrderID: req.OrderRef,
		Source:          models.SourceWeb,
	}
	if p := o.fetchPayment(ctx, req.PaymentRef); p != nil {
		if p.Method != "" {
			payload.PaymentMethod = p.Method
		}
		payload.PaymentDetails = p.Raw
	}

	admission, err := o.Admit(ctx, req.PaymentRef, payload)
	if err != nil {
		o.noticeFailure(ctx, req.Customer, req.PaymentRef, err)
		return nil, err
	}
	if !admission.Replay {
		o.dispatch(ctx, admission.Order)
	}
	return admission, nil
}

// ConfirmWebhook handles a provider webhook delivery
func (o *Orchestrator) ConfirmWebhook(ctx context.Context, body []byte, sig string) (*WebhookResult, error) {
	if err := o.verifier.VerifyWebhook(body, sig); err != nil {
		return nil, err
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	if !event.Captured() {
		o.logger.WithContext(ctx).Debug("Ignoring webhook event", logging.Field{Key: "event", Value: event.Event})
		return &WebhookResult{Outcome: WebhookIgnored}, nil
	}

	entity := event.Payment()
	if entity.ID == "" {
		return nil, errors.ValidationError("Invalid payload").WithContext("reason", "missing payment id")
	}
	ctx = logging.ContextWithOrder(ctx, "", entity.ID)

	existing, err := o.lookup(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &WebhookResult{Outcome: WebhookReplay, Order: existing}, nil
	}

	payload, err := entity.ToOrderPayload()
	if err != nil {
		customer := models.Customer{Name: entity.Notes["name"], Email: entity.Notes["email"]}
		o.noticeFailure(ctx, customer, entity.ID, err)
		return nil, err
	}

	admission, err := o.Admit(ctx, entity.ID, payload)
	if err != nil {
		// the provider retries persistence failures, so only data errors get a notice
		if errors.IsType(err, errors.ErrTypeValidation) {
			o.noticeFailure(ctx, payload.Customer, entity.ID, err)
		}
		return nil, err
	}
	if admission.Replay {
		return &WebhookResult{Outcome: WebhookReplay, Order: admission.Order}, nil
	}

	o.dispatch(ctx, admission.Order)
	return &WebhookResult{Outcome: WebhookAdmitted, Order: admission.Order}, nil
}

// Admit creates the order for paymentID unless one exists. A lost insert race
// is reported as a replay of the winner's order.
func (o *Orchestrator) Admit(ctx context.Context, paymentID string, payload *models.OrderPayload) (*Admission, error) {
	if paymentID == "" {
		return nil, errors.ValidationError("payment id is required")
	}

	existing, err := o.lookup(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Admission{Order: existing, Replay: true}, nil
	}

	if err := validation.ValidateStruct(payload); err != nil {
		return nil, err
	}

	order := &models.Order{
		PaymentID:       paymentID,
		ProviderOrderID: payload.ProviderOrderID,
		Customer:        payload.Customer,
		Address:         payload.Address,
		Items:           payload.Items,
		Total:           payload.Total,
		PaymentMethod:   payload.PaymentMethod,
		PaymentDetails:  payload.PaymentDetails,
		Status:          models.OrderStatusPaid,
		ShippingStatus:  models.ShippingNotShipped,
		Source:          payload.Source,
		IsTestOrder:     payload.IsTestOrder,
		Fulfillment: models.Fulfillment{
			State:      models.StateAdmitting,
			AdminNotes: NoteProcessing,
		},
	}

	if err := o.store.CreateOrder(ctx, order); err != nil {
		if stderrors.Is(err, storage.ErrDuplicatePayment) {
			winner, lookupErr := o.lookup(ctx, paymentID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return &Admission{Order: winner, Replay: true}, nil
			}
		}
		return nil, errors.InternalError("Order save failed", err)
	}

	o.logger.WithContext(ctx).Info("Order admitted",
		logging.Field{Key: "order_id", Value: order.ID},
		logging.Field{Key: "source", Value: string(order.Source)},
		logging.Field{Key: "total", Value: order.Total},
	)
	return &Admission{Order: order}, nil
}

// Reprocess queues another pipeline run for an existing order
func (o *Orchestrator) Reprocess(ctx context.Context, paymentID string) (*models.Order, error) {
	order, err := o.lookup(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.NotFoundError("order").WithContext("payment_id", paymentID)
	}
	if err := o.dispatcher.Dispatch(ctx, order); err != nil {
		return nil, err
	}
	o.logger.WithContext(ctx).Info("Order queued for reprocessing", logging.Field{Key: "order_id", Value: order.ID})
	return order, nil
}

// Order returns the order for a payment
func (o *Orchestrator) Order(ctx context.Context, paymentID string) (*models.Order, error) {
	order, err := o.lookup(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.NotFoundError("order").WithContext("payment_id", paymentID)
	}
	return order, nil
}

// EmailLogs returns the notification audit trail of the order for a payment
func (o *Orchestrator) EmailLogs(ctx context.Context, paymentID string) ([]*models.EmailLog, error) {
	order, err := o.Order(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return o.store.ListEmailLogs(ctx, order.ID)
}

func (o *Orchestrator) lookup(ctx context.Context, paymentID string) (*models.Order, error) {
	order, err := o.store.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// fetchPayment returns nil when the provider cannot be reached in time
func (o *Orchestrator) fetchPayment(ctx context.Context, paymentID string) *payment.Payment {
	if o.payments == nil {
		return nil
	}
	p, err := utils.CallWithTimeout(ctx, o.opts.PaymentFetchTimeout, "payment fetch", func(ctx context.Context) (*payment.Payment, error) {
		return o.payments.FetchPayment(ctx, paymentID)
	})
	if err != nil {
		o.logger.WithContext(ctx).Warn("Payment details unavailable, continuing with unknown method",
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return p
}

func (o *Orchestrator) dispatch(ctx context.Context, order *models.Order) {
	if err := o.dispatcher.Dispatch(ctx, order); err != nil {
		o.logger.WithContext(ctx).Error("Failed to dispatch fulfillment", err, logging.Field{Key: "order_id", Value: order.ID})
	}
}

// noticeFailure emails the customer in the background when admission fails
// after a valid signature and a contact address is known.
func (o *Orchestrator) noticeFailure(ctx context.Context, customer models.Customer, paymentID string, cause error) {
	if o.notifier == nil || customer.Email == "" {
		return
	}
	reason := "We could not save your order."
	if appErr, ok := errors.As(cause); ok && appErr.Type == errors.ErrTypeValidation {
		reason = appErr.Message
	}
	notice := notify.FailureNotice{Name: customer.Name, Email: customer.Email, Reason: reason, OrderRef: paymentID}

	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, o.opts.FailureNoticeTimeout)
		defer cancel()
		if err := o.notifier.SendFailureNotice(ctx, notice); err != nil {
			o.logger.WithContext(ctx).Warn("Failure notice not sent", logging.Field{Key: "error", Value: err.Error()})
		}
	}()
}
