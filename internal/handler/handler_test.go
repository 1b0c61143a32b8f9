package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taxcore/internal/handler"
	"taxcore/internal/middleware"
	"taxcore/internal/model"
	"taxcore/internal/service"
	"taxcore/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var secret = []byte("handler-secret")

type apiEnv struct {
	t      *testing.T
	router *gin.Engine
	store  *testutil.Store
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := testutil.NewStore()
	log := zaptest.NewLogger(t)
	taxes := service.NewTaxService(store.RateRepo(), store.AssignmentRepo(), store.AuditRepo(), store.TxManager(), nil, nil, log)
	engine := service.NewTaxEngine(
		service.NewResolver(store.AssignmentRepo(), store.RateRepo()),
		store.RateRepo(),
		service.NewCalculator(service.DefaultCurrencyPrecision),
		nil,
		log,
	)

	r := gin.New()
	root := r.Group("")
	handler.NewTaxHandler(taxes, secret).RegisterRoutes(root)
	handler.NewComputeHandler(engine, secret).RegisterRoutes(root)
	handler.NewAuditHandler(service.NewAuditService(store.AuditRepo()), secret).RegisterRoutes(root)

	return &apiEnv{t: t, router: r, store: store}
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
}

func (e *apiEnv) do(role, method, path string, body interface{}) (int, envelope) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  uuid.NewString(),
			"role": role,
		}).SignedString(secret)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (e *apiEnv) create(path string, body interface{}) string {
	e.t.Helper()
	status, env := e.do(middleware.RoleAdmin, http.MethodPost, path, body)
	require.Equal(e.t, http.StatusCreated, status, env.Error)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(e.t, json.Unmarshal(env.Data, &out))
	return out.ID
}

func (e *apiEnv) assign(groupID string, refs ...gin.H) {
	e.t.Helper()
	status, env := e.do(middleware.RoleAdmin, http.MethodPost, "/api/tax-groups/"+groupID+"/assignments", gin.H{"references": refs})
	require.Equal(e.t, http.StatusCreated, status, env.Error)
}

func (e *apiEnv) compute(base string, refs ...model.Reference) service.TaxComputationResult {
	e.t.Helper()
	status, env := e.do(middleware.RoleService, http.MethodPost, "/api/tax/compute", gin.H{
		"base_amount": base,
		"at":          "2024-06-01T00:00:00Z",
		"references":  refs,
	})
	require.Equal(e.t, http.StatusOK, status, env.Error)
	var res service.TaxComputationResult
	require.NoError(e.t, json.Unmarshal(env.Data, &res))
	return res
}

func TestTaxAPI_ConfigureAndCompute(t *testing.T) {
	api := newAPI(t)

	ppn := api.create("/api/taxes", gin.H{"owner_type": "system", "name": "PPN"})
	charge := api.create("/api/taxes", gin.H{"owner_type": "system", "name": "Service Charge"})

	national := api.create("/api/tax-groups", gin.H{"owner_type": "system", "name": "National VAT"})
	api.create("/api/tax-groups/"+national+"/rates", gin.H{
		"tax_id": ppn, "rate": "11", "type": "percentage", "priority": 1, "valid_from": "2024-01-01",
	})

	dining := api.create("/api/tax-groups", gin.H{"owner_type": "system", "name": "Dining"})
	api.create("/api/tax-groups/"+dining+"/rates", gin.H{
		"tax_id": charge, "rate": "5", "type": "percentage", "priority": 2,
		"based_on": "total_after_previous_tax", "valid_from": "2024-01-01",
	})

	api.assign(national, gin.H{"type": "region", "id": "ID-JK"})
	api.assign(dining, gin.H{"type": "product", "id": "all"})

	res := api.compute("100000", model.Reference{Type: "region", ID: "ID-JK"})
	assert.True(t, decimal.RequireFromString("111000").Equal(res.GrandTotal), res.GrandTotal.String())

	res = api.compute("100000",
		model.Reference{Type: "region", ID: "ID-JK"},
		model.Reference{Type: "product", ID: "nasi-goreng"},
	)
	require.Len(t, res.Lines, 2)
	assert.True(t, decimal.RequireFromString("16550").Equal(res.TotalTax), res.TotalTax.String())
	assert.True(t, decimal.RequireFromString("116550").Equal(res.GrandTotal), res.GrandTotal.String())

	status, env := api.do(middleware.RoleAdmin, http.MethodGet, "/api/tax/entity-groups?type=product&id=nasi-goreng", nil)
	require.Equal(t, http.StatusOK, status)
	var groups []model.TaxGroup
	require.NoError(t, json.Unmarshal(env.Data, &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "Dining", groups[0].Name)

	status, env = api.do(middleware.RoleAdmin, http.MethodGet, "/api/audit-logs?action="+model.ActionAssignTaxGroup, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(2), page.Total)
}

func TestTaxAPI_ErrorMapping(t *testing.T) {
	api := newAPI(t)
	group := api.create("/api/tax-groups", gin.H{"owner_type": "system", "name": "VAT"})
	api.assign(group, gin.H{"type": "region", "id": "ID-BA"})

	tests := []struct {
		name       string
		role       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"unknown group", middleware.RoleAdmin, http.MethodGet, "/api/tax-groups/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"malformed id", middleware.RoleAdmin, http.MethodGet, "/api/tax-groups/not-a-uuid", nil, http.StatusBadRequest, "invalid"},
		{"duplicate assignment", middleware.RoleAdmin, http.MethodPost, "/api/tax-groups/" + group + "/assignments",
			gin.H{"references": []gin.H{{"type": "region", "id": "ID-BA"}}}, http.StatusConflict, "conflict"},
		{"binding failure", middleware.RoleAdmin, http.MethodPost, "/api/taxes", gin.H{"owner_type": "galaxy", "name": "x"}, http.StatusBadRequest, ""},
		{"negative base", middleware.RoleService, http.MethodPost, "/api/tax/compute", gin.H{"base_amount": "-1"}, http.StatusBadRequest, "invalid"},
		{"service role cannot manage", middleware.RoleService, http.MethodGet, "/api/taxes", nil, http.StatusForbidden, ""},
		{"anonymous compute", "", http.MethodPost, "/api/tax/compute", gin.H{"base_amount": "1"}, http.StatusUnauthorized, ""},
		{"entity query needs type and id", middleware.RoleAdmin, http.MethodGet, "/api/tax/overlaps?type=region", nil, http.StatusBadRequest, ""},
		{"bulk delete rejects all", middleware.RoleAdmin, http.MethodDelete, "/api/tax-assignments?type=region&id=all", nil, http.StatusBadRequest, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(tt.role, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status, env.Error)
			assert.Equal(t, "error", env.Status)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, env.Code)
			}
		})
	}
}

func TestTaxAPI_DeleteAssignmentsForEntity(t *testing.T) {
	api := newAPI(t)
	a := api.create("/api/tax-groups", gin.H{"owner_type": "system", "name": "A"})
	b := api.create("/api/tax-groups", gin.H{"owner_type": "system", "name": "B"})
	api.assign(a, gin.H{"type": "merchant", "id": "m-1"})
	api.assign(b, gin.H{"type": "merchant", "id": "m-1"}, gin.H{"type": "merchant", "id": "m-2"})

	status, env := api.do(middleware.RoleAdmin, http.MethodDelete, "/api/tax-assignments?type=merchant&id=m-1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(2), out.Deleted)

	status, env = api.do(middleware.RoleAdmin, http.MethodGet, "/api/tax/entity-groups?type=merchant&id=m-2", nil)
	require.Equal(t, http.StatusOK, status)
	var groups []model.TaxGroup
	require.NoError(t, json.Unmarshal(env.Data, &groups))
	assert.Len(t, groups, 1)
}

func TestTaxAPI_ListTaxesPagination(t *testing.T) {
	api := newAPI(t)
	for _, name := range []string{"PPN", "PB1", "Service"} {
		api.create("/api/taxes", gin.H{"owner_type": "system", "name": name})
	}

	status, env := api.do(middleware.RoleTaxManager, http.MethodGet, "/api/taxes?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Items []service.TaxResponse `json:"items"`
		Total int64                 `json:"total"`
		Page  int                   `json:"page"`
		Limit int                   `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Items, 1)
}
