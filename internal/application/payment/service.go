package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smartshop/commerce/internal/application"
	domorder "github.com/smartshop/commerce/internal/domain/order"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	dompayment "github.com/smartshop/commerce/internal/domain/payment"
	"github.com/smartshop/commerce/internal/observability"
)

const (
	serviceName    = "payment-service"
	useCaseProcess = "payment.process"
	useCaseRefund  = "payment.refund"
	useCaseList    = "payment.list_transactions"
	chargeTimeout  = 5 * time.Second
)

// ErrChargeFailed wraps gateway declines and transport failures; the failed
// attempt stays on the ledger and the order can be retried with a new
// transaction.
var ErrChargeFailed = errors.New("payment: charge failed")

// ErrOrderAlreadyPaid rejects a second charge against a paid order.
var ErrOrderAlreadyPaid = errors.New("payment: order already paid")

// Service is the payment and refund ledger. Transactions are append-only
// records of attempts; refunds never exceed what their transaction captured.
type Service struct {
	txns      dompayment.TransactionRepository
	refunds   dompayment.RefundRepository
	orders    domorder.Repository
	gateways  Gateways
	stock     Stock
	promos    Promotions
	publisher domoutbox.Publisher
	ids       IDGenerator
	attempts  int

	ins          *application.Instrumenter
	payments     observability.Counter
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewService(
	txns dompayment.TransactionRepository,
	refunds dompayment.RefundRepository,
	orders domorder.Repository,
	gateways Gateways,
	stock Stock,
	promos Promotions,
	publisher domoutbox.Publisher,
	ids IDGenerator,
	attempts int,
	tel observability.Telemetry,
) *Service {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Service{
		txns:         txns,
		refunds:      refunds,
		orders:       orders,
		gateways:     gateways,
		stock:        stock,
		promos:       promos,
		publisher:    publisher,
		ids:          ids,
		attempts:     attempts,
		ins:          application.NewInstrumenter(tel, serviceName),
		payments:     tel.Counter(observability.MPayments),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

type ProcessInput struct {
	UserID      string
	OrderID     string
	GatewayName string
	Amount      decimal.Decimal
	Description string
	Metadata    map[string]string
}

// ProcessPayment charges the order total through the named gateway. The
// transaction is persisted before the charge so every attempt, including
// declines, stays on the ledger with the raw gateway response.
func (s *Service) ProcessPayment(ctx context.Context, in ProcessInput) (_ *dompayment.Transaction, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseProcess,
		attribute.String("order.id", in.OrderID),
		attribute.String("payment.gateway", in.GatewayName),
	)
	defer func() { obs.Done(err) }()

	entity, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		obs.Fail("ORDER_NOT_FOUND")
		return nil, fmt.Errorf("payment: process: %w", err)
	}
	if in.UserID == "" || entity.UserID != in.UserID {
		obs.Fail("ORDER_NOT_FOUND")
		return nil, fmt.Errorf("payment: process: %w", domorder.ErrNotFound)
	}
	if entity.PaymentStatus == domorder.PaymentPaid {
		obs.Fail("ORDER_ALREADY_PAID")
		err = ErrOrderAlreadyPaid
		return nil, err
	}
	if !in.Amount.Equal(entity.TotalAmount) {
		obs.Fail("AMOUNT_MISMATCH")
		err = fmt.Errorf("payment: process: %w", dompayment.ErrAmountMismatch)
		return nil, err
	}

	gateway, ok := s.gateways.Resolve(in.GatewayName)
	if !ok {
		obs.Fail("GATEWAY_UNSUPPORTED")
		err = fmt.Errorf("payment: process: %w", dompayment.ErrGatewayUnsupported)
		return nil, err
	}

	txn, err := dompayment.NewTransaction(
		s.ids.NewID(), entity.ID, entity.UserID,
		gateway.Name(), s.ids.NewReference(),
		in.Amount, in.Description,
	)
	if err != nil {
		obs.Fail("TRANSACTION_INVALID")
		return nil, fmt.Errorf("payment: process: %w", err)
	}
	if err = s.txns.Insert(ctx, txn); err != nil {
		obs.Fail("REPO_INSERT_FAILED")
		return nil, fmt.Errorf("payment: process: %w", err)
	}
	obs.Annotate(observability.F("transaction_id", txn.ID))

	result, chargeErr := s.charge(ctx, gateway, dompayment.ChargeRequest{
		OrderID:   entity.ID,
		Reference: txn.Reference,
		Amount:    txn.Amount,
		Metadata:  in.Metadata,
	})

	outcome := "success"
	switch {
	case chargeErr != nil:
		outcome = "error"
		if rerr := s.RecordResult(ctx, txn.ID, false, map[string]any{"error": chargeErr.Error()}); rerr != nil {
			obs.Annotate(observability.F("record_result_error", rerr.Error()))
		}
		obs.Fail("GATEWAY_ERROR")
		err = fmt.Errorf("%w: %w", ErrChargeFailed, chargeErr)
	case !result.Succeeded:
		outcome = "declined"
		if rerr := s.RecordResult(ctx, txn.ID, false, result.Raw); rerr != nil {
			obs.Annotate(observability.F("record_result_error", rerr.Error()))
		}
		obs.Fail("CHARGE_DECLINED")
		err = fmt.Errorf("%w: %s", ErrChargeFailed, result.Message)
	default:
		if err = s.RecordResult(ctx, txn.ID, true, result.Raw); err != nil {
			obs.Fail("RECORD_RESULT_FAILED")
			err = fmt.Errorf("payment: process: %w", err)
		}
	}
	s.payments.Add(1,
		observability.L("gateway", gateway.Name()),
		observability.L("outcome", outcome),
	)
	if err != nil {
		return s.reload(ctx, txn.ID), err
	}
	return s.reload(ctx, txn.ID), nil
}

// RecordResult applies a gateway outcome to the transaction and, on success,
// to the order. Replaying the same outcome is a no-op; completed and failed
// transactions never revert to pending.
func (s *Service) RecordResult(ctx context.Context, transactionID string, succeeded bool, response map[string]any) error {
	var orderID string
	err := application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		txn, err := s.txns.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		orderID = txn.OrderID
		if succeeded {
			if err := txn.Complete(response); err != nil {
				return err
			}
		} else {
			if err := txn.Fail(response); err != nil {
				return err
			}
		}
		return s.txns.Update(ctx, txn)
	})
	if err != nil {
		return fmt.Errorf("payment: record result: %w", err)
	}
	if !succeeded {
		return nil
	}

	entity, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("payment: record result: %w", err)
	}
	alreadyPaid := entity.PaymentStatus == domorder.PaymentPaid
	if err := entity.MarkPaid(); err != nil {
		return fmt.Errorf("payment: record result: %w", err)
	}
	if err := s.orders.Update(ctx, entity); err != nil {
		return fmt.Errorf("payment: record result: %w", err)
	}
	if !alreadyPaid {
		if pubErr := s.ins.Publish(ctx, s.publisher, domorder.NewOrderPaidEvent(entity)); pubErr != nil {
			s.ins.Logger().Warn("order_paid_event_publish_failed",
				observability.F("order_id", entity.ID),
				observability.F("error", pubErr.Error()),
			)
		}
	}
	return nil
}

type RefundInput struct {
	UserID        string
	TransactionID string
	Reason        string
	Amount        decimal.Decimal
}

// RequestRefund reverses up to the transaction's remaining refundable amount.
// A refund that exhausts it flips the transaction and order to refunded and
// restocks the order's items.
func (s *Service) RequestRefund(ctx context.Context, in RefundInput) (_ *dompayment.Refund, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRefund,
		attribute.String("payment.transaction_id", in.TransactionID),
	)
	defer func() { obs.Done(err) }()

	txn, err := s.txns.Get(ctx, in.TransactionID)
	if err != nil {
		obs.Fail("TRANSACTION_NOT_FOUND")
		return nil, fmt.Errorf("payment: refund: %w", err)
	}
	if in.UserID == "" || txn.UserID != in.UserID {
		obs.Fail("TRANSACTION_NOT_FOUND")
		err = fmt.Errorf("payment: refund: %w", dompayment.ErrTransactionNotFound)
		return nil, err
	}
	if !txn.Refundable() {
		obs.Fail("NOT_REFUNDABLE")
		err = fmt.Errorf("payment: refund: %w", dompayment.ErrTransactionNotRefundable)
		return nil, err
	}

	refund, err := dompayment.NewRefund(s.ids.NewID(), txn, in.Reason, in.Amount)
	if err != nil {
		obs.Fail("REFUND_INVALID")
		return nil, fmt.Errorf("payment: refund: %w", err)
	}
	if err = s.refunds.Insert(ctx, refund); err != nil {
		obs.Fail("REPO_INSERT_FAILED")
		return nil, fmt.Errorf("payment: refund: %w", err)
	}

	// The cap lives on the transaction row: booking the refund is a
	// version-guarded increment of RefundedAmount, so two racing refunds
	// serialize and the loser re-reads the shrunken remainder.
	var booked *dompayment.Transaction
	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		current, gerr := s.txns.Get(ctx, in.TransactionID)
		if gerr != nil {
			return gerr
		}
		if aerr := current.ApplyRefund(in.Amount); aerr != nil {
			return aerr
		}
		if uerr := s.txns.Update(ctx, current); uerr != nil {
			return uerr
		}
		booked = current
		return nil
	})
	if err != nil {
		refund.Reject()
		if uerr := s.refunds.Update(ctx, refund); uerr != nil {
			obs.Annotate(observability.F("refund_reject_error", uerr.Error()))
		}
		obs.Fail(refundFailStatus(err))
		return nil, fmt.Errorf("payment: refund: %w", err)
	}

	// Refunds settle synchronously against the simulated gateways.
	refund.Complete("re_"+s.ids.NewReference(), in.Amount)
	if err = s.refunds.Update(ctx, refund); err != nil {
		obs.Fail("REPO_UPDATE_FAILED")
		return nil, fmt.Errorf("payment: refund: %w", err)
	}

	if booked.Status == dompayment.TransactionRefunded {
		if err = s.settleFullRefund(ctx, obs, booked); err != nil {
			obs.Fail("FULL_REFUND_SETTLE_FAILED")
			return nil, err
		}
	}
	return refund, nil
}

func refundFailStatus(err error) string {
	switch {
	case errors.Is(err, dompayment.ErrAmountExceedsTransaction):
		return "AMOUNT_EXCEEDS_REFUNDABLE"
	case errors.Is(err, dompayment.ErrTransactionNotRefundable):
		return "NOT_REFUNDABLE"
	case errors.Is(err, application.ErrConcurrencyConflict):
		return "REFUND_CONFLICT"
	default:
		return "REFUND_BOOK_FAILED"
	}
}

// ListTransactions returns the user's payment history, newest first per the
// repository's ordering.
func (s *Service) ListTransactions(ctx context.Context, userID string) (_ []*dompayment.Transaction, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseList)
	defer func() { obs.Done(err) }()

	if userID == "" {
		obs.Fail("USER_ID_REQUIRED")
		return nil, application.Validationf("user id is required")
	}
	list, err := s.txns.ListByUser(ctx, userID)
	if err != nil {
		obs.Fail("REPO_LIST_FAILED")
		return nil, fmt.Errorf("payment: list transactions: %w", err)
	}
	return list, nil
}

// settleFullRefund unwinds the order side of a fully refunded transaction:
// the order flips to refunded, its stock returns to the ledger, and any
// units bought against a flash sale go back to the sale's allocation.
func (s *Service) settleFullRefund(ctx context.Context, obs *application.Observation, txn *dompayment.Transaction) error {
	entity, err := s.orders.Get(ctx, txn.OrderID)
	if err != nil {
		return fmt.Errorf("payment: refund: %w", err)
	}
	entity.MarkRefunded()
	if err := s.orders.Update(ctx, entity); err != nil {
		return fmt.Errorf("payment: refund: %w", err)
	}
	for _, line := range entity.Items {
		if rerr := s.stock.Release(ctx, line.ProductID, line.Quantity); rerr != nil {
			obs.Annotate(observability.F("restock_error", rerr.Error()))
		}
		if line.FlashSaleQuantity > 0 {
			if rerr := s.promos.ReleaseFlashSale(ctx, line.ProductID, line.FlashSaleQuantity); rerr != nil {
				obs.Annotate(observability.F("sale_release_error", rerr.Error()))
			}
		}
	}
	return nil
}

func (s *Service) isConflict(err error) bool {
	return errors.Is(err, dompayment.ErrVersionConflict)
}

// charge calls the gateway under a bounded timeout and records external call
// metrics per gateway.
func (s *Service) charge(ctx context.Context, gateway dompayment.Gateway, req dompayment.ChargeRequest) (dompayment.ChargeResult, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, chargeTimeout)
	defer cancel()

	start := time.Now()
	result, err := gateway.Charge(chargeCtx, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if !result.Succeeded {
		outcome = "declined"
	}

	s.extCounter.Add(1,
		observability.L("peer", gateway.Name()),
		observability.L("endpoint", "charge"),
		observability.L("outcome", outcome),
	)
	s.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", gateway.Name()),
		observability.L("endpoint", "charge"),
	)
	return result, err
}

func (s *Service) reload(ctx context.Context, transactionID string) *dompayment.Transaction {
	txn, err := s.txns.Get(ctx, transactionID)
	if err != nil {
		return nil
	}
	return txn
}
