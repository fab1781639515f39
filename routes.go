package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/middlewares"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/mmdatafocus/wms_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type api struct {
	engine *workflow.Engine
	db     *gorm.DB
	logger *logrus.Logger
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type assignRequest struct {
	Assignee string `json:"assignee"`
}

type bulkTasksRequest struct {
	TaskIds  []int  `json:"task_ids" binding:"required"`
	Assignee string `json:"assignee"`
	Priority int    `json:"priority"`
}

type autoAssignRequest struct {
	TaskIds          []int `json:"task_ids" binding:"required"`
	ReassignAssigned bool  `json:"reassign_assigned"`
}

type bulkPalletsRequest struct {
	Codes []string `json:"codes" binding:"required"`
}

func registerRoutes(r gin.IRouter, a *api) {
	supervisor := middlewares.RequireRole(string(models.UserRoleSupervisor), string(models.UserRoleAdmin))

	v1 := r.Group("/api/v1", middlewares.RequireUser())

	receipts := v1.Group("/receipts")
	receipts.POST("", supervisor, a.importReceipt)
	receipts.GET("/:id", a.getReceipt)
	receipts.GET("/:id/history", a.history("receipt"))
	receipts.POST("/:id/confirm", supervisor, a.receiptAction(a.engine.ConfirmReceipt))
	receipts.POST("/:id/start-receiving", supervisor, a.startReceiving)
	receipts.POST("/:id/complete-receiving", a.receiptAction(a.engine.CompleteReceiving))
	receipts.POST("/:id/resolve-and-continue", supervisor, a.receiptAction(a.engine.ResolveAndContinue))
	receipts.POST("/:id/ready-for-placement", a.receiptAction(a.engine.MarkReadyForPlacement))
	receipts.POST("/:id/start-placement", a.startPlacement)
	receipts.POST("/:id/complete-placement", a.receiptAction(a.engine.CompletePlacement))
	receipts.POST("/:id/ready-for-shipment", a.receiptAction(a.engine.MarkReadyForShipment))
	receipts.POST("/:id/start-shipping", a.startShipping)
	receipts.POST("/:id/complete-shipping", a.receiptAction(a.engine.CompleteShipping))
	receipts.POST("/:id/cancel", supervisor, a.receiptAction(a.engine.CancelReceipt))

	v1.POST("/discrepancies/:id/resolve", supervisor, a.resolveDiscrepancy)

	tasks := v1.Group("/tasks")
	tasks.POST("", supervisor, a.createTask)
	tasks.GET("/:id", a.getTask)
	tasks.GET("/:id/history", a.history("task"))
	tasks.POST("/:id/assign", supervisor, a.assignTask)
	tasks.POST("/:id/start", a.taskAction(a.engine.StartTask))
	tasks.POST("/:id/complete", a.taskAction(a.engine.CompleteTask))
	tasks.POST("/:id/cancel", supervisor, a.taskAction(a.engine.CancelTask))
	tasks.POST("/:id/release", a.taskAction(a.engine.ReleaseTask))
	tasks.POST("/:id/scans", a.recordScan)
	tasks.POST("/:id/placement", a.recordPlacement)
	tasks.POST("/:id/shipping", a.recordShipping)
	tasks.POST("/:id/undo", a.undoLastScan)
	tasks.POST("/bulk/assign", supervisor, a.bulkAssign)
	tasks.POST("/bulk/priority", supervisor, a.bulkPriority)
	tasks.POST("/bulk/cancel", supervisor, a.bulkCancel)
	tasks.POST("/auto-assign/preview", supervisor, a.autoAssign(false))
	tasks.POST("/auto-assign/apply", supervisor, a.autoAssign(true))

	v1.POST("/pallets/bulk", supervisor, a.bulkPallets)
	v1.POST("/pallets/:id/quarantine", supervisor, a.quarantinePallet)
	v1.GET("/pallets/:id/history", a.history("pallet"))
	v1.GET("/pallets/:id/location", a.palletLocation)

	waves := v1.Group("/waves")
	waves.GET("/:ref", a.waveStatus)
	waves.POST("/:ref/prepare", supervisor, a.prepareWave)
	waves.POST("/:ref/start-shipping", supervisor, a.startWaveShipping)
}

// writeError maps workflow errors to HTTP responses. Blockers are returned in full.
func (a *api) writeError(c *gin.Context, err error) {
	var blocked *utils.BlockerError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     blocked.Error(),
			"kind":      utils.ErrorKindConflict,
			"operation": blocked.Operation,
			"blockers":  blocked.Blockers,
		})
		return
	}
	status := utils.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": utils.KindOf(err)})
}

func (a *api) pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		a.writeError(c, utils.NewValidationFailure("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (a *api) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		a.writeError(c, utils.NewValidationFailure("invalid request: %s", err.Error()))
		return false
	}
	return true
}

func (a *api) receiptAction(fn func(ctx context.Context, id int) (*models.Receipt, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := a.pathId(c)
		if !ok {
			return
		}
		receipt, err := fn(c.Request.Context(), id)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

func (a *api) taskAction(fn func(ctx context.Context, id int) (*models.Task, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := a.pathId(c)
		if !ok {
			return
		}
		task, err := fn(c.Request.Context(), id)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

func (a *api) importReceipt(c *gin.Context) {
	var input models.NewReceipt
	if !a.bind(c, &input) {
		return
	}
	receipt, created, err := a.engine.ImportReceipt(c.Request.Context(), input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, receipt)
}

func (a *api) getReceipt(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	receipt, err := a.engine.GetReceipt(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (a *api) history(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := a.pathId(c)
		if !ok {
			return
		}
		rows, err := models.ListHistory(a.db.WithContext(c.Request.Context()), entityType, id)
		if err != nil {
			config.LogError(a.logger, "server", "history", "ListHistory", map[string]any{"entity_type": entityType, "entity_id": id}, err)
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func (a *api) startReceiving(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	tasks, err := a.engine.StartReceiving(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (a *api) startPlacement(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	result, err := a.engine.StartPlacement(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) startShipping(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	tasks, err := a.engine.StartShipping(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (a *api) resolveDiscrepancy(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	var req commentRequest
	if c.Request.ContentLength > 0 && !a.bind(c, &req) {
		return
	}
	discrepancy, err := a.engine.ResolveDiscrepancy(c.Request.Context(), id, req.Comment)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discrepancy)
}

func (a *api) createTask(c *gin.Context) {
	var input models.NewTask
	if !a.bind(c, &input) {
		return
	}
	task, err := a.engine.CreateTask(c.Request.Context(), input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (a *api) getTask(c *gin.Context) {
	a.taskAction(a.engine.GetTask)(c)
}

func (a *api) assignTask(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	var req assignRequest
	if !a.bind(c, &req) {
		return
	}
	task, err := a.engine.AssignTask(c.Request.Context(), id, req.Assignee)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *api) scanInput(c *gin.Context) (int, models.NewScan, bool) {
	var input models.NewScan
	id, ok := a.pathId(c)
	if !ok {
		return 0, input, false
	}
	if !a.bind(c, &input) {
		return 0, input, false
	}
	if input.DeviceId == "" {
		input.DeviceId, _ = utils.GetDeviceIdFromContext(c.Request.Context())
	}
	return id, input, true
}

func (a *api) recordScan(c *gin.Context) {
	id, input, ok := a.scanInput(c)
	if !ok {
		return
	}
	scan, err := a.engine.RecordScan(c.Request.Context(), id, input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scan)
}

func (a *api) recordPlacement(c *gin.Context) {
	id, input, ok := a.scanInput(c)
	if !ok {
		return
	}
	scan, err := a.engine.RecordPlacement(c.Request.Context(), id, input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scan)
}

func (a *api) recordShipping(c *gin.Context) {
	id, input, ok := a.scanInput(c)
	if !ok {
		return
	}
	result, err := a.engine.RecordShipping(c.Request.Context(), id, input)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed || result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (a *api) undoLastScan(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	result, err := a.engine.UndoLastScan(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) bulkAssign(c *gin.Context) {
	var req bulkTasksRequest
	if !a.bind(c, &req) {
		return
	}
	result, err := a.engine.BulkAssignTasks(c.Request.Context(), req.TaskIds, req.Assignee)
	a.writeBulk(c, result, err)
}

func (a *api) bulkPriority(c *gin.Context) {
	var req bulkTasksRequest
	if !a.bind(c, &req) {
		return
	}
	result, err := a.engine.BulkSetPriority(c.Request.Context(), req.TaskIds, req.Priority)
	a.writeBulk(c, result, err)
}

func (a *api) bulkCancel(c *gin.Context) {
	var req bulkTasksRequest
	if !a.bind(c, &req) {
		return
	}
	result, err := a.engine.BulkCancelTasks(c.Request.Context(), req.TaskIds)
	a.writeBulk(c, result, err)
}

func (a *api) bulkPallets(c *gin.Context) {
	var req bulkPalletsRequest
	if !a.bind(c, &req) {
		return
	}
	result, err := a.engine.BulkCreatePallets(c.Request.Context(), req.Codes)
	a.writeBulk(c, result, err)
}

func (a *api) writeBulk(c *gin.Context, result *workflow.BulkResult, err error) {
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) autoAssign(apply bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req autoAssignRequest
		if !a.bind(c, &req) {
			return
		}
		var (
			preview *workflow.AssignmentPreview
			err     error
		)
		if apply {
			preview, err = a.engine.ApplyAutoAssignment(c.Request.Context(), req.TaskIds, req.ReassignAssigned)
		} else {
			preview, err = a.engine.PlanAutoAssignment(c.Request.Context(), req.TaskIds, req.ReassignAssigned)
		}
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

func (a *api) quarantinePallet(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	pallet, err := a.engine.QuarantinePallet(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pallet)
}

// palletLocation answers where a pallet stood at ?at= (RFC3339, default now).
func (a *api) palletLocation(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeError(c, utils.NewValidationFailure("at must be an RFC3339 timestamp"))
			return
		}
		at = parsed.UTC()
	}
	location, err := a.engine.PalletLocationAt(c.Request.Context(), id, at)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pallet_id": id, "at": at, "location": location})
}

func (a *api) waveStatus(c *gin.Context) {
	summary, err := a.engine.WaveStatus(c.Request.Context(), c.Param("ref"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *api) prepareWave(c *gin.Context) {
	outcomes, err := a.engine.PrepareWave(c.Request.Context(), c.Param("ref"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": outcomes})
}

func (a *api) startWaveShipping(c *gin.Context) {
	outcomes, err := a.engine.StartWaveShipping(c.Request.Context(), c.Param("ref"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": outcomes})
}
