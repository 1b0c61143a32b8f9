package handler

import (
	"net/http"
	"time"

	"taxcore/internal/middleware"
	"taxcore/internal/model"
	"taxcore/internal/service"
	"taxcore/pkg/response"

	"github.com/gin-gonic/gin"
)

// ResolveRequest lists the references of one transaction.
type ResolveRequest struct {
	References []model.Reference `json:"references" binding:"dive"`
}

type ComputeHandler struct {
	engine service.TaxEngine
	secret []byte
}

func NewComputeHandler(engine service.TaxEngine, secret []byte) *ComputeHandler {
	return &ComputeHandler{engine: engine, secret: secret}
}

func (h *ComputeHandler) RegisterRoutes(router *gin.RouterGroup) {
	pricing := router.Group("/api/tax")
	pricing.Use(middleware.RequireRole(h.secret, middleware.RoleAdmin, middleware.RoleTaxManager, middleware.RoleService))
	{
		pricing.POST("/compute", h.Compute)
	}

	diagnostics := router.Group("/api/tax")
	diagnostics.Use(middleware.RequireRole(h.secret, middleware.RoleAdmin, middleware.RoleTaxManager))
	{
		diagnostics.POST("/resolve", h.Resolve)
		diagnostics.GET("/entity-groups", h.GroupsForEntity)
		diagnostics.GET("/overlaps", h.FindOverlapping)
	}
}

// Compute calculates the tax of one transaction
// @Summary      Compute tax
// @Description  Resolves the groups of every reference, selects the rate of each group valid at "at" and applies them in priority order.
// @Tags         tax-engine
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.ComputeRequest  true  "Transaction"
// @Success      200      {object}  response.Response{data=service.TaxComputationResult}
// @Failure      400      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/tax/compute [post]
func (h *ComputeHandler) Compute(c *gin.Context) {
	var req service.ComputeRequest
	if !bindJSON(c, &req) {
		return
	}

	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	result, err := h.engine.Compute(c.Request.Context(), req.BaseAmount, at, req.References)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Resolve reports the group pool of a set of references and where they overlap
// @Summary      Resolve tax groups
// @Tags         tax-engine
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      ResolveRequest  true  "References"
// @Success      200      {object}  response.Response{data=service.Resolution}
// @Router       /api/tax/resolve [post]
func (h *ComputeHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.engine.ResolveGroups(c.Request.Context(), req.References)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// GroupsForEntity lists the groups reaching one entity, global ones included
// @Summary      Groups of an entity
// @Tags         tax-engine
// @Security     BearerAuth
// @Produce      json
// @Param        type  query     string  true  "Assignable type"
// @Param        id    query     string  true  "Assignable ID"
// @Success      200   {object}  response.Response{data=[]model.TaxGroup}
// @Router       /api/tax/entity-groups [get]
func (h *ComputeHandler) GroupsForEntity(c *gin.Context) {
	ref, ok := referenceFromQuery(c)
	if !ok {
		return
	}

	groups, err := h.engine.GroupsForEntity(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, groups))
}

// FindOverlapping lists assignments of the entity's groups that also reach
// other entities
// @Summary      Overlapping assignments
// @Tags         tax-engine
// @Security     BearerAuth
// @Produce      json
// @Param        type  query     string  true  "Assignable type"
// @Param        id    query     string  true  "Assignable ID"
// @Success      200   {object}  response.Response{data=[]model.TaxAssignment}
// @Router       /api/tax/overlaps [get]
func (h *ComputeHandler) FindOverlapping(c *gin.Context) {
	ref, ok := referenceFromQuery(c)
	if !ok {
		return
	}

	assignments, err := h.engine.FindOverlappingAssignments(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, assignments))
}
