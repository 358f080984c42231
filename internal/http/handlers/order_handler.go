package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/swap-arbiter/internal/http/handlers/common"
	"github.com/ignatzorin/swap-arbiter/internal/http/middleware"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// Действия PATCH /orders/:id.
const (
	OrderActionMatch           = "match"
	OrderActionAddQR           = "add_qr"
	OrderActionAddPaymentProof = "add_payment_proof"
	OrderActionPaymentSent     = "payment_sent"
	OrderActionComplete        = "complete"
	OrderActionDispute         = "dispute"
	OrderActionCancel          = "cancel"
)

// OrderHandler обслуживает заявки на обмен.
type OrderHandler struct {
	orders        *service.OrderService
	disputes      *service.DisputeService
	maxProofBytes int64
}

// NewOrderHandler создаёт хэндлер заказов.
func NewOrderHandler(orders *service.OrderService, disputes *service.DisputeService, maxProofBytes int64) *OrderHandler {
	return &OrderHandler{orders: orders, disputes: disputes, maxProofBytes: maxProofBytes}
}

// CreateOrderRequest тело POST /orders.
type CreateOrderRequest struct {
	AmountBase decimal.Decimal `json:"amount_base"`
	Currency   string          `json:"currency"`
	Rail       string          `json:"rail"`
}

// UpdateOrderRequest тело PATCH /orders/:id.
type UpdateOrderRequest struct {
	Action string             `json:"action" binding:"required"`
	Proof  *common.ProofInput `json:"proof,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// CreateOrder обрабатывает POST /api/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if !common.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.Create(c.Request.Context(), service.CreateOrderInput{
		Requester:  address,
		AmountBase: req.AmountBase,
		Currency:   req.Currency,
		Rail:       req.Rail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// ListOrders обрабатывает GET /api/orders?status=&requester=&mine=true.
// mine=true требует токен, доказательства в выдаче видят только стороны сделки.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	filter := repository.OrderFilter{
		Status:    models.OrderStatus(c.Query("status")),
		Requester: c.Query("requester"),
		Limit:     limit,
		Offset:    offset,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		response.BadRequest(c, "неизвестный статус заказа")
		return
	}
	if c.Query("mine") == "true" {
		address, ok := common.CurrentAddress(c)
		if !ok {
			return
		}
		filter.Party = address
	}

	orders, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	viewer := c.GetString(middleware.ContextAddressKey)
	views := make([]models.OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, orders[i].ViewFor(viewer))
	}
	response.Page(c, views, len(views), limit, offset)
}

// GetOrder обрабатывает GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order.ViewFor(c.GetString(middleware.ContextAddressKey)))
}

// UpdateOrder обрабатывает PATCH /api/orders/:id с полем action.
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req UpdateOrderRequest
	if !common.BindJSON(c, &req) {
		return
	}

	proof, err := req.Proof.Decode(h.maxProofBytes)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	var order *models.Order

	switch req.Action {
	case OrderActionMatch:
		order, err = h.orders.Match(ctx, id, address)
	case OrderActionAddQR, OrderActionAddPaymentProof:
		if err = h.checkProofRole(c, id, req.Action, address); err == nil {
			order, err = h.orders.SubmitProof(ctx, id, address, proof)
		}
	case OrderActionPaymentSent:
		order, err = h.orders.MarkPaymentSent(ctx, id, address, proof)
	case OrderActionComplete:
		order, err = h.orders.Complete(ctx, id, address)
	case OrderActionCancel:
		order, err = h.orders.Cancel(ctx, id, address)
	case OrderActionDispute:
		dispute, derr := h.disputes.Create(ctx, service.CreateDisputeInput{
			OrderID:  id,
			RaisedBy: address,
			Reason:   req.Reason,
		})
		if derr != nil {
			response.Error(c, derr)
			return
		}
		response.Success(c, dispute)
		return
	default:
		response.BadRequest(c, "неизвестное действие: "+req.Action)
		return
	}

	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// checkProofRole: add_qr - действие заявителя, add_payment_proof - контрагента.
func (h *OrderHandler) checkProofRole(c *gin.Context, id uuid.UUID, action, address string) error {
	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		return err
	}
	address = models.NormalizeAddress(address)
	if action == OrderActionAddQR && address != order.Requester {
		return apperror.Forbidden(apperror.ReasonNotParty, "реквизиты может добавить только заявитель")
	}
	if action == OrderActionAddPaymentProof && address != order.CounterpartyAddress() {
		return apperror.Forbidden(apperror.ReasonNotParty, "подтверждение оплаты может добавить только контрагент")
	}
	return nil
}
