package httpx

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/safar/autoshop-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogHandler serves the records reconciliation works on: inventory,
// customers, transactions and appointment bookings.
type CatalogHandler struct {
	DB       *sql.DB
	Location *time.Location
	Logger   *zap.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Post("/inventory", h.createItem)
	r.Get("/inventory", h.listItems)
	r.Get("/inventory/{id}", h.getItem)
	r.Patch("/inventory/{id}/stock", h.setStock)

	r.Post("/customers", h.createCustomer)
	r.Get("/customers/{id}", h.getCustomer)
	r.Get("/customers/{id}/transactions", h.listCustomerTransactions)

	r.Post("/transactions", h.createTransaction)
	r.Get("/transactions/{id}", h.getTransaction)
	r.Get("/transactions/{id}/appointments", h.listAppointments)

	r.Post("/appointments", h.createAppointment)
	r.Get("/appointments/{id}", h.getAppointment)
}

// writeStoreError maps ledger errors for the catalog endpoints.
func (h *CatalogHandler) writeStoreError(w http.ResponseWriter, op string, err error) {
	var transition *database.TransitionError

	switch {
	case errors.Is(err, database.ErrCustomerNotFound),
		errors.Is(err, database.ErrInventoryItemNotFound),
		errors.Is(err, database.ErrTransactionNotFound),
		errors.Is(err, database.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrOptimisticLockFailed):
		writeError(w, http.StatusConflict, "inventory item was modified concurrently, reload and retry")
	case errors.Is(err, store.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid cursor")
	case errors.As(err, &transition):
		writeError(w, http.StatusBadRequest, transition.Error())
	case database.IsUniqueViolation(err):
		writeError(w, http.StatusConflict, "record already exists")
	case database.IsCheckViolation(err):
		writeError(w, http.StatusBadRequest, "value violates a constraint")
	default:
		h.Logger.Error("catalog operation failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type createItemReq struct {
	Kind      models.ItemKind `json:"kind"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Inventory int             `json:"inventory"`
}

func (h *CatalogHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be color, wheel or interior")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Price.IsNegative() || req.Inventory < 0 {
		writeError(w, http.StatusBadRequest, "price and inventory must not be negative")
		return
	}

	item, err := store.CreateInventoryItem(r.Context(), h.DB, req.Kind, req.Name, req.Price, req.Inventory)
	if err != nil {
		h.writeStoreError(w, "create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *CatalogHandler) listItems(w http.ResponseWriter, r *http.Request) {
	kind := models.ItemKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListInventoryItems(r.Context(), h.DB, kind, page, pageSize)
	if err != nil {
		h.writeStoreError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CatalogHandler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := store.GetInventoryItem(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type setStockReq struct {
	Inventory int `json:"inventory"`
	Version   int `json:"version"`
}

func (h *CatalogHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req setStockReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Inventory < 0 {
		writeError(w, http.StatusBadRequest, "inventory must not be negative")
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	item, err := store.SetInventoryOptimistic(r.Context(), h.DB, chi.URLParam(r, "id"), req.Inventory, req.Version)
	if err != nil {
		h.writeStoreError(w, "set stock", err)
		return
	}

	h.Logger.Info("inventory restocked",
		zap.String("item_id", item.ID),
		zap.Int("inventory", item.Inventory),
		zap.Int("version", item.Version))
	writeJSON(w, http.StatusOK, item)
}

type createCustomerReq struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *CatalogHandler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if !strings.Contains(req.Email, "@") || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "email and name are required")
		return
	}

	customer, err := store.CreateCustomer(r.Context(), h.DB, strings.ToLower(strings.TrimSpace(req.Email)), req.Name)
	if err != nil {
		h.writeStoreError(w, "create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *CatalogHandler) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := store.GetCustomer(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *CatalogHandler) listCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListTransactionsCursor(r.Context(), h.DB, chi.URLParam(r, "id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeStoreError(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createTransactionReq struct {
	CustomerID string `json:"customerId"`
	ColorID    string `json:"colorId"`
	WheelID    string `json:"wheelId"`
	InteriorID string `json:"interiorId"`
}

func (h *CatalogHandler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" || req.ColorID == "" || req.WheelID == "" || req.InteriorID == "" {
		writeError(w, http.StatusBadRequest, "customerId, colorId, wheelId and interiorId are required")
		return
	}

	t, err := store.CreateTransaction(r.Context(), h.DB, store.CreateTransactionRequest{
		CustomerID: req.CustomerID,
		ColorID:    req.ColorID,
		WheelID:    req.WheelID,
		InteriorID: req.InteriorID,
	})
	if err != nil {
		h.writeStoreError(w, "create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *CatalogHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := store.GetTransaction(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *CatalogHandler) listAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := store.ListAppointmentsByTransaction(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

type createAppointmentReq struct {
	TransactionID string `json:"transactionId"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

func (h *CatalogHandler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	if _, err := models.ParseSlot(req.Date, req.Time, loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := store.CreateAppointment(r.Context(), h.DB, req.TransactionID, strings.TrimSpace(req.Date), strings.TrimSpace(req.Time))
	if err != nil {
		h.writeStoreError(w, "create appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *CatalogHandler) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := store.GetAppointment(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
