package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"cell-tester/internal/api/models"
	"cell-tester/internal/duplicate"
	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner runs the measurement protocol for one cell.
type Runner interface {
	Run(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error)
}

// BenchHandler owns the single instrument. Requests that need it are serialized and
// a second concurrent test is rejected rather than queued.
type BenchHandler struct {
	mu      sync.Mutex
	port    instrument.Port
	runner  Runner
	store   store.Store
	driver  string
	address string
	log     *zap.Logger
	abort   context.Context

	runsMu sync.RWMutex
	runs   map[string]models.TestRunResponse
	order  []string
}

// maxRuns bounds the run history served by GetRun; the oldest runs are dropped first.
const maxRuns = 256

// BenchConfig wires a BenchHandler
type BenchConfig struct {
	Port    instrument.Port
	Runner  Runner
	Store   store.Store
	Driver  string
	Address string
	Logger  *zap.Logger
	// Abort, when cancelled, aborts a test in progress. Requests going away do not.
	Abort context.Context
}

// NewBenchHandler creates a bench handler
func NewBenchHandler(cfg BenchConfig) *BenchHandler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &BenchHandler{
		port:    cfg.Port,
		runner:  cfg.Runner,
		store:   cfg.Store,
		driver:  cfg.Driver,
		address: cfg.Address,
		log:     log,
		abort:   cfg.Abort,
		runs:    make(map[string]models.TestRunResponse),
	}
}

// Instrument handles GET /api/v1/instrument
func (h *BenchHandler) Instrument(c *gin.Context) {
	if !h.mu.TryLock() {
		writeError(c, http.StatusConflict, "INSTRUMENT_BUSY", "a cell test is in progress")
		return
	}
	defer h.mu.Unlock()

	id, err := h.port.ConnectionCheck(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "INSTRUMENT_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, models.InstrumentResponse{
		Driver:   h.driver,
		Address:  h.address,
		Identity: id,
	})
}

// RunTest handles POST /api/v1/tests
func (h *BenchHandler) RunTest(c *gin.Context) {
	var req models.TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	choice, err := parseOnDuplicate(req.OnDuplicate)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	serial := model.CellIdentifier(strings.TrimSpace(req.Serial))
	if err := serial.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if !h.mu.TryLock() {
		writeError(c, http.StatusConflict, "INSTRUMENT_BUSY", "a cell test is in progress")
		return
	}
	defer h.mu.Unlock()

	ctx, cancel := h.runContext(c.Request.Context())
	defer cancel()
	runID := uuid.NewString()
	log := h.log.With(zap.String("run_id", runID), zap.String("serial", serial.String()))

	d, err := duplicate.Resolve(ctx, serial, h.store, duplicate.Always(choice))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if d.Kind == duplicate.Skip {
		resp := models.TestRunResponse{ID: runID, Status: "skipped"}
		if prior, found, err := h.store.Lookup(ctx, serial); err == nil && found {
			r := models.NewCellResult(*prior)
			resp.Result = &r
		}
		log.Info("test skipped, result already recorded")
		h.remember(resp)
		c.JSON(http.StatusOK, resp)
		return
	}

	start := time.Now()
	out, err := h.runner.Run(ctx, d.Identifier)
	if err != nil {
		log.Warn("test failed", zap.Error(err))
		status, code := classifyRunError(err)
		h.fail(c, runID, status, code, err)
		return
	}
	if err := store.Save(ctx, h.store, out.Result, d.Overwrite); err != nil {
		log.Error("saving result failed", zap.Error(err))
		h.fail(c, runID, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	if b, ok := h.port.(instrument.Beeper); ok {
		if err := b.Beep(ctx, true); err != nil {
			log.Debug("beep failed", zap.Error(err))
		}
	}

	r := models.NewCellResult(out.Result)
	resp := models.TestRunResponse{
		ID:       runID,
		Status:   "completed",
		Replaced: d.Overwrite,
		Result:   &r,
		Warnings: out.Warnings,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
	}
	h.remember(resp)
	log.Info("test completed", zap.Bool("replaced", d.Overwrite), zap.Int("warnings", len(out.Warnings)))
	c.JSON(http.StatusCreated, resp)
}

// GetRun handles GET /api/v1/tests/:id
func (h *BenchHandler) GetRun(c *gin.Context) {
	h.runsMu.RLock()
	run, ok := h.runs[c.Param("id")]
	h.runsMu.RUnlock()
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "unknown test run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// runContext detaches a test from its request so a dropped client cannot stop a cell
// mid-sequence. Only the handler's abort context ends a run early.
func (h *BenchHandler) runContext(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(req))
	if h.abort == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(h.abort, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// fail records a failed run under its id and writes the error response.
func (h *BenchHandler) fail(c *gin.Context, runID string, status int, code string, err error) {
	detail := models.ErrorDetail{Code: code, Message: err.Error(), Details: map[string]interface{}{"run_id": runID}}
	var se *sequencer.StepError
	if errors.As(err, &se) {
		detail.Details["state"] = se.State.String()
	}
	h.remember(models.TestRunResponse{ID: runID, Status: "failed", Error: &detail})
	c.JSON(status, models.ErrorResponse{Error: detail})
}

func (h *BenchHandler) remember(r models.TestRunResponse) {
	h.runsMu.Lock()
	defer h.runsMu.Unlock()
	if _, ok := h.runs[r.ID]; !ok {
		h.order = append(h.order, r.ID)
	}
	h.runs[r.ID] = r
	for len(h.order) > maxRuns {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

func parseOnDuplicate(s string) (duplicate.Choice, error) {
	if strings.TrimSpace(s) == "" {
		return duplicate.SkipCell, nil
	}
	c, err := duplicate.ParseChoice(s)
	if err != nil || c == duplicate.NewIdentifier {
		return 0, errors.New(`on_duplicate must be "retest" or "skip"`)
	}
	return c, nil
}

func classifyRunError(err error) (int, string) {
	switch {
	case errors.Is(err, instrument.ErrConnection):
		return http.StatusServiceUnavailable, "INSTRUMENT_UNAVAILABLE"
	case errors.Is(err, instrument.ErrAcquisition):
		return http.StatusBadGateway, "ACQUISITION_FAILED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "TEST_ABORTED"
	default:
		return http.StatusInternalServerError, "TEST_FAILED"
	}
}
