// This is a http type of reporter.
// It reads the operations kept by the vault client and the wallet
// balances and exposes the admin routes on top of them.

package reporter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/operation"
	"github.com/TEENet-io/btc-vault/vaultclient"
)

const (
	ROUTE_HELLO         = "/hello"
	ROUTE_OPERATIONS    = "/operations"
	ROUTE_OPERATION     = "/operations/:id"
	ROUTE_HISTORY       = "/operations/:id/history"
	ROUTE_RESET         = "/operations/:id/reset"
	ROUTE_CANCEL        = "/operations/:id/cancel"
	ROUTE_ACTION_TX     = "/operations/:id/actions/:actionId/tx"
	ROUTE_BALANCE       = "/balance"
	ROUTE_DEPOSITS      = "/deposits"
	ROUTE_INFO          = "/info"
	ROUTE_FORGET_PAYOUT = "/payouts/:id/forget"
	ROUTE_METRICS       = "/metrics"

	shutdownTimeout = 5 * time.Second
	defaultListenIP = "0.0.0.0"
)

// Wallet is the part of the btc wallet the admin routes read.
type Wallet interface {
	GetBalances(ctx context.Context, vault string) (map[string]int64, error)
	GetTotalBalance(ctx context.Context, vault string) (int64, error)
	ForgetPayout(ctx context.Context, id string) error
}

type DepositLister interface {
	AllDeposits(ctx context.Context, vault string) ([]btcvault.DepositRecord, error)
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	client   *vaultclient.VaultClient
	wallet   Wallet
	deposits DepositLister // nil disables the deposits route
	vault    string
}

func NewHttpReporter(serverIP string, serverPort string, client *vaultclient.VaultClient, wallet Wallet, deposits DepositLister) *HttpReporter {
	if serverIP == "" {
		serverIP = defaultListenIP
	}
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		client:     client,
		wallet:     wallet,
		deposits:   deposits,
		vault:      client.Info().Vault,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_OPERATIONS, h.ListOperations)
	router.POST(ROUTE_OPERATIONS, h.CreateOperation)
	router.GET(ROUTE_OPERATION, h.GetOperation)
	router.GET(ROUTE_HISTORY, h.History)
	router.POST(ROUTE_RESET, h.ResetOperation)
	router.POST(ROUTE_CANCEL, h.CancelOperation)
	router.POST(ROUTE_ACTION_TX, h.SetActionTransactionHash)
	router.GET(ROUTE_BALANCE, h.Balance)
	router.GET(ROUTE_INFO, h.Info)
	router.POST(ROUTE_FORGET_PAYOUT, h.ForgetPayout)
	router.GET(ROUTE_METRICS, gin.WrapH(promhttp.Handler()))
	if h.deposits != nil {
		router.GET(ROUTE_DEPOSITS, h.Deposits)
	}

	return router
}

// Run serves the routes until ctx is done.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.serverIP + ":" + h.serverPort,
		Handler: h.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", srv.Addr).Info("http reporter listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("http request")
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": true, "data": data})
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": false, "error": err.Error()})
}

// failWith maps a domain error to its http status.
func failWith(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vaultclient.ErrOperationNotFound),
		errors.Is(err, operation.ErrActionNotFound):
		fail(c, http.StatusNotFound, err)
	case errors.Is(err, vaultclient.ErrOperationExists),
		errors.Is(err, operation.ErrResetNotAllowed),
		errors.Is(err, operation.ErrNotCancelable),
		errors.Is(err, operation.ErrTxHashConflict):
		fail(c, http.StatusConflict, err)
	case errors.Is(err, operation.ErrUnknownOperationType):
		fail(c, http.StatusBadRequest, err)
	default:
		fail(c, http.StatusInternalServerError, err)
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func (h *HttpReporter) ListOperations(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	size, err := queryInt(c, "size")
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	records, total := h.client.ListOperations(vaultclient.ListFilter{
		Status: operation.Status(c.Query("status")),
		Type:   operation.OperationType(c.Query("type")),
		Page:   page,
		Size:   size,
	})
	ok(c, gin.H{"operations": records, "total": total})
}

func (h *HttpReporter) GetOperation(c *gin.Context) {
	op, err := h.client.GetOperation(c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, op.Snapshot(true))
}

func (h *HttpReporter) History(c *gin.Context) {
	history, err := h.client.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, history)
}

func (h *HttpReporter) ResetOperation(c *gin.Context) {
	op, err := h.client.ResetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, op.Snapshot(false))
}

func (h *HttpReporter) CancelOperation(c *gin.Context) {
	if err := h.client.CancelOperation(c.Request.Context(), c.Param("id")); err != nil {
		failWith(c, err)
		return
	}
	ok(c, nil)
}

type setHashRequest struct {
	Hash    string `json:"hash" binding:"required"`
	Replace bool   `json:"replace"`
}

func (h *HttpReporter) SetActionTransactionHash(c *gin.Context) {
	var req setHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	err := h.client.SetActionTransactionHash(c.Request.Context(), c.Param("id"), c.Param("actionId"), req.Hash, req.Replace)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, nil)
}

type createRequest struct {
	Type       operation.OperationType `json:"type" binding:"required"`
	ID         string                  `json:"id" binding:"required"`
	BtcAddress string                  `json:"btcAddress" binding:"required"`
	Amount     int64                   `json:"amount" binding:"required,gt=0"`
	Requester  string                  `json:"requester"`
}

// CreateOperation starts an admin flow. Redemptions only come from the
// ledger and are refused here.
func (h *HttpReporter) CreateOperation(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if req.Type != operation.ReturnWrongPayment && req.Type != operation.SendRaw {
		fail(c, http.StatusBadRequest, operation.ErrUnknownOperationType)
		return
	}

	op, err := h.client.CreateOperation(c.Request.Context(), operation.Params{
		ID:         req.ID,
		Type:       req.Type,
		Vault:      h.vault,
		Requester:  req.Requester,
		BtcAddress: req.BtcAddress,
		Amount:     req.Amount,
	})
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, op.Snapshot(false))
}

func (h *HttpReporter) Balance(c *gin.Context) {
	balances, err := h.wallet.GetBalances(c.Request.Context(), h.vault)
	if err != nil {
		failWith(c, err)
		return
	}
	total, err := h.wallet.GetTotalBalance(c.Request.Context(), h.vault)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, gin.H{"total": total, "addresses": balances})
}

func (h *HttpReporter) Deposits(c *gin.Context) {
	records, err := h.deposits.AllDeposits(c.Request.Context(), h.vault)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, records)
}

func (h *HttpReporter) Info(c *gin.Context) {
	ok(c, h.client.Info())
}

func (h *HttpReporter) ForgetPayout(c *gin.Context) {
	if err := h.wallet.ForgetPayout(c.Request.Context(), c.Param("id")); err != nil {
		failWith(c, err)
		return
	}
	ok(c, nil)
}
