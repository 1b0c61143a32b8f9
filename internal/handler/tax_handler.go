package handler

import (
	"net/http"

	"taxcore/internal/middleware"
	"taxcore/internal/model"
	"taxcore/internal/service"
	"taxcore/pkg/pagination"
	"taxcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type TaxHandler struct {
	taxService service.TaxService
	secret     []byte
}

func NewTaxHandler(taxService service.TaxService, secret []byte) *TaxHandler {
	return &TaxHandler{taxService: taxService, secret: secret}
}

func (h *TaxHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	api.Use(middleware.RequireRole(h.secret, middleware.RoleAdmin, middleware.RoleTaxManager))
	{
		api.POST("/taxes", h.CreateTax)
		api.GET("/taxes", h.ListTaxes)
		api.PATCH("/taxes/:id/active", h.SetTaxActive)

		api.POST("/tax-groups", h.CreateGroup)
		api.GET("/tax-groups", h.ListGroups)
		api.GET("/tax-groups/:id", h.GetGroup)
		api.PATCH("/tax-groups/:id/active", h.SetGroupActive)
		api.DELETE("/tax-groups/:id", h.DeleteGroup)

		api.POST("/tax-groups/:id/rates", h.CreateRate)
		api.GET("/tax-groups/:id/rates", h.ListRates)
		api.POST("/tax-rates/:id/expire", h.ExpireRate)

		api.POST("/tax-groups/:id/assignments", h.AssignGroup)
		api.DELETE("/tax-assignments/:id", h.DeleteAssignment)
		api.DELETE("/tax-assignments", h.DeleteAssignmentsForEntity)
	}
}

func respondError(c *gin.Context, err error) {
	status, body := response.FromError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return false
	}
	return true
}

// CreateTax registers a new tax concept
// @Summary      Create tax
// @Tags         taxes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.CreateTaxRequest  true  "Tax"
// @Success      201      {object}  response.Response{data=service.TaxResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/taxes [post]
func (h *TaxHandler) CreateTax(c *gin.Context) {
	var req service.CreateTaxRequest
	if !bindJSON(c, &req) {
		return
	}

	tax, err := h.taxService.CreateTax(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, tax))
}

// ListTaxes returns taxes page by page
// @Summary      List taxes
// @Tags         taxes
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /api/taxes [get]
func (h *TaxHandler) ListTaxes(c *gin.Context) {
	p := pagination.Parse(c)

	taxes, total, err := h.taxService.ListTaxes(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithPagination(taxes, total, p.Page, p.Limit))
}

// SetTaxActive toggles a tax on or off for every group using it
// @Summary      Activate or deactivate tax
// @Tags         taxes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Tax ID"
// @Param        request  body      service.SetActiveRequest  true  "State"
// @Success      200      {object}  response.Response{data=service.TaxResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/taxes/{id}/active [patch]
func (h *TaxHandler) SetTaxActive(c *gin.Context) {
	var req service.SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}

	tax, err := h.taxService.SetTaxActive(c.Request.Context(), middleware.ActorID(c), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, tax))
}

// CreateGroup creates an empty tax group
// @Summary      Create tax group
// @Tags         tax-groups
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.CreateTaxGroupRequest  true  "Group"
// @Success      201      {object}  response.Response{data=service.TaxGroupResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/tax-groups [post]
func (h *TaxHandler) CreateGroup(c *gin.Context) {
	var req service.CreateTaxGroupRequest
	if !bindJSON(c, &req) {
		return
	}

	group, err := h.taxService.CreateGroup(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, group))
}

// ListGroups returns tax groups page by page
// @Summary      List tax groups
// @Tags         tax-groups
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /api/tax-groups [get]
func (h *TaxHandler) ListGroups(c *gin.Context) {
	p := pagination.Parse(c)

	groups, total, err := h.taxService.ListGroups(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithPagination(groups, total, p.Page, p.Limit))
}

// GetGroup returns a group with its rates and assignments
// @Summary      Get tax group
// @Tags         tax-groups
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Group ID"
// @Success      200  {object}  response.Response{data=service.TaxGroupDetailResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/tax-groups/{id} [get]
func (h *TaxHandler) GetGroup(c *gin.Context) {
	group, err := h.taxService.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, group))
}

// SetGroupActive toggles a tax group
// @Summary      Activate or deactivate tax group
// @Tags         tax-groups
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Group ID"
// @Param        request  body      service.SetActiveRequest  true  "State"
// @Success      200      {object}  response.Response{data=service.TaxGroupResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/tax-groups/{id}/active [patch]
func (h *TaxHandler) SetGroupActive(c *gin.Context) {
	var req service.SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}

	group, err := h.taxService.SetGroupActive(c.Request.Context(), middleware.ActorID(c), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, group))
}

// DeleteGroup removes a group together with its rates and assignments
// @Summary      Delete tax group
// @Tags         tax-groups
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Group ID"
// @Success      200  {object}  response.Response{data=object}
// @Failure      404  {object}  response.Response
// @Router       /api/tax-groups/{id} [delete]
func (h *TaxHandler) DeleteGroup(c *gin.Context) {
	deleted, err := h.taxService.DeleteGroup(c.Request.Context(), middleware.ActorID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": deleted}))
}

// CreateRate adds a rate version to a group
// @Summary      Create tax rate
// @Tags         tax-rates
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Group ID"
// @Param        request  body      service.CreateTaxRateRequest  true  "Rate"
// @Success      201      {object}  response.Response{data=service.TaxRateResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/tax-groups/{id}/rates [post]
func (h *TaxHandler) CreateRate(c *gin.Context) {
	var req service.CreateTaxRateRequest
	if !bindJSON(c, &req) {
		return
	}

	rate, err := h.taxService.CreateRate(c.Request.Context(), middleware.ActorID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rate))
}

// ListRates returns every rate version of a group
// @Summary      List tax rates of a group
// @Tags         tax-rates
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Group ID"
// @Success      200  {object}  response.Response{data=[]service.TaxRateResponse}
// @Router       /api/tax-groups/{id}/rates [get]
func (h *TaxHandler) ListRates(c *gin.Context) {
	rates, err := h.taxService.ListRates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rates))
}

// ExpireRate closes a rate's validity window
// @Summary      Expire tax rate
// @Tags         tax-rates
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Rate ID"
// @Param        request  body      service.ExpireTaxRateRequest  true  "Expiry"
// @Success      200      {object}  response.Response{data=service.TaxRateResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/tax-rates/{id}/expire [post]
func (h *TaxHandler) ExpireRate(c *gin.Context) {
	var req service.ExpireTaxRateRequest
	if !bindJSON(c, &req) {
		return
	}

	rate, err := h.taxService.ExpireRate(c.Request.Context(), middleware.ActorID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rate))
}

// AssignGroup links a group to one or more entity references
// @Summary      Assign tax group
// @Description  All references are assigned in one transaction. Use id "all" to target every entity of a type.
// @Tags         tax-assignments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true  "Group ID"
// @Param        request  body      service.AssignTaxGroupRequest  true  "References"
// @Success      201      {object}  response.Response{data=[]service.TaxAssignmentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/tax-groups/{id}/assignments [post]
func (h *TaxHandler) AssignGroup(c *gin.Context) {
	var req service.AssignTaxGroupRequest
	if !bindJSON(c, &req) {
		return
	}

	assignments, err := h.taxService.AssignGroup(c.Request.Context(), middleware.ActorID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, assignments))
}

// DeleteAssignment removes one assignment
// @Summary      Delete tax assignment
// @Tags         tax-assignments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Assignment ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/tax-assignments/{id} [delete]
func (h *TaxHandler) DeleteAssignment(c *gin.Context) {
	if err := h.taxService.DeleteAssignment(c.Request.Context(), middleware.ActorID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, nil))
}

// DeleteAssignmentsForEntity removes every direct assignment of one entity
// @Summary      Delete assignments of an entity
// @Tags         tax-assignments
// @Security     BearerAuth
// @Produce      json
// @Param        type  query     string  true  "Assignable type"
// @Param        id    query     string  true  "Assignable ID"
// @Success      200   {object}  response.Response{data=object}
// @Failure      400   {object}  response.Response
// @Router       /api/tax-assignments [delete]
func (h *TaxHandler) DeleteAssignmentsForEntity(c *gin.Context) {
	ref, ok := referenceFromQuery(c)
	if !ok {
		return
	}

	deleted, err := h.taxService.DeleteAssignmentsForEntity(c.Request.Context(), middleware.ActorID(c), ref)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": deleted}))
}

func referenceFromQuery(c *gin.Context) (model.Reference, bool) {
	ref := model.Reference{Type: c.Query("type"), ID: c.Query("id")}.Normalize()
	if ref.Type == "" || ref.ID == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "query parameters type and id are required"))
		return model.Reference{}, false
	}
	return ref, true
}
