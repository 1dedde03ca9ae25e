package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/reimburse-approvals/internal/application/service"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	auth     *Authenticator
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, auth *Authenticator, logger Logger) *Handlers {
	return &Handlers{services: services, auth: auth, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DecisionRequest is the body of a decision call
type DecisionRequest struct {
	Action   string  `json:"action"`
	Comments *string `json:"comments"`
}

// SignupResponse carries the new tenant and a token for its admin
type SignupResponse struct {
	Company *entity.Company   `json:"company"`
	Admin   *entity.Principal `json:"admin"`
	Token   string            `json:"token,omitempty"`
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrResolution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "error", err)
		msg = "internal server error"
	} else if status == http.StatusServiceUnavailable {
		h.logger.Error("Request failed", "op", op, "error", err)
	} else {
		h.logger.Warn("Request rejected", "op", op, "status", status, "error", err)
	}
	c.JSON(status, Response{Success: false, Error: msg})
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: fmt.Sprintf("invalid request body: %v", err)})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// Signup handles POST /api/signup
func (h *Handlers) Signup(c *gin.Context) {
	var req service.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	company, admin, err := h.services.Companies.Signup(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "signup", err)
		return
	}

	resp := SignupResponse{Company: company, Admin: admin}
	if token, err := h.auth.Issue(admin); err != nil {
		h.logger.Warn("Signup token not issued", "principal_id", admin.ID, "error", err)
	} else {
		resp.Token = token
	}
	ok(c, http.StatusCreated, resp)
}

// Decide handles POST /api/approvals/:expenseId/decision
func (h *Handlers) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := h.services.Orchestrator.Decide(
		c.Request.Context(),
		c.Param("expenseId"),
		currentPrincipal(c),
		strings.ToLower(strings.TrimSpace(req.Action)),
		req.Comments,
	)
	if err != nil {
		h.fail(c, "decide", err)
		return
	}
	ok(c, http.StatusOK, outcome)
}

// Inbox handles GET /api/approvals/inbox
func (h *Handlers) Inbox(c *gin.Context) {
	items, err := h.services.Orchestrator.ListPendingFor(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.fail(c, "inbox", err)
		return
	}
	if items == nil {
		items = []*entity.PendingItem{}
	}
	ok(c, http.StatusOK, items)
}

// ApprovalTrail handles GET /api/expenses/:id/approvals
func (h *Handlers) ApprovalTrail(c *gin.Context) {
	trail, err := h.services.Orchestrator.GetApprovalTrail(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "approval trail", err)
		return
	}
	ok(c, http.StatusOK, trail)
}

// CreateExpense handles POST /api/expenses
func (h *Handlers) CreateExpense(c *gin.Context) {
	var req service.ExpenseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	expense, err := h.services.Expenses.CreateExpense(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		h.fail(c, "create expense", err)
		return
	}
	ok(c, http.StatusCreated, expense)
}

// ListExpenses handles GET /api/expenses?status=...
func (h *Handlers) ListExpenses(c *gin.Context) {
	expenses, err := h.services.Expenses.ListExpenses(c.Request.Context(), currentPrincipal(c), c.QueryArray("status"))
	if err != nil {
		h.fail(c, "list expenses", err)
		return
	}
	if expenses == nil {
		expenses = []*entity.Expense{}
	}
	ok(c, http.StatusOK, expenses)
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.services.Expenses.GetExpense(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get expense", err)
		return
	}
	ok(c, http.StatusOK, expense)
}

// SubmitExpense handles POST /api/expenses/:id/submit
func (h *Handlers) SubmitExpense(c *gin.Context) {
	expense, err := h.services.Expenses.SubmitExpense(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "submit expense", err)
		return
	}
	ok(c, http.StatusOK, expense)
}

// Summary handles GET /api/reports/summary?currency=XXX
func (h *Handlers) Summary(c *gin.Context) {
	sum, err := h.services.Reports.Summary(c.Request.Context(), currentPrincipal(c), c.Query("currency"))
	if err != nil {
		h.fail(c, "summary", err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// ExportExpenses handles GET /api/reports/expenses.xlsx?currency=XXX
func (h *Handlers) ExportExpenses(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.services.Reports.Export(c.Request.Context(), currentPrincipal(c), c.Query("currency"), &buf); err != nil {
		h.fail(c, "export expenses", err)
		return
	}

	filename := fmt.Sprintf("expenses-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	workflows, err := h.services.Workflows.ListWorkflows(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.fail(c, "list workflows", err)
		return
	}
	if workflows == nil {
		workflows = []*entity.ApprovalWorkflow{}
	}
	ok(c, http.StatusOK, workflows)
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	wf, err := h.services.Workflows.GetWorkflow(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get workflow", err)
		return
	}
	ok(c, http.StatusOK, wf)
}

// CreateWorkflow handles POST /api/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req service.WorkflowInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	wf, err := h.services.Workflows.CreateWorkflow(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		h.fail(c, "create workflow", err)
		return
	}
	ok(c, http.StatusCreated, wf)
}

// UpdateWorkflow handles PUT /api/workflows/:id
func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	var req service.WorkflowInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	wf, err := h.services.Workflows.UpdateWorkflow(c.Request.Context(), currentPrincipal(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "update workflow", err)
		return
	}
	ok(c, http.StatusOK, wf)
}

// ActivateWorkflow handles POST /api/workflows/:id/activate
func (h *Handlers) ActivateWorkflow(c *gin.Context) {
	h.setActive(c, true)
}

// DeactivateWorkflow handles POST /api/workflows/:id/deactivate
func (h *Handlers) DeactivateWorkflow(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handlers) setActive(c *gin.Context, active bool) {
	wf, err := h.services.Workflows.SetActive(c.Request.Context(), currentPrincipal(c), c.Param("id"), active)
	if err != nil {
		h.fail(c, "set workflow active", err)
		return
	}
	ok(c, http.StatusOK, wf)
}

// DeleteWorkflow handles DELETE /api/workflows/:id
func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	if err := h.services.Workflows.DeleteWorkflow(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		h.fail(c, "delete workflow", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

// Me handles GET /api/users/me
func (h *Handlers) Me(c *gin.Context) {
	ok(c, http.StatusOK, currentPrincipal(c))
}

// ListUsers handles GET /api/users
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.services.Principals.ListPrincipals(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.fail(c, "list users", err)
		return
	}
	if users == nil {
		users = []*entity.Principal{}
	}
	ok(c, http.StatusOK, users)
}

// ListApprovers handles GET /api/users/approvers
func (h *Handlers) ListApprovers(c *gin.Context) {
	users, err := h.services.Principals.ListApprovers(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.fail(c, "list approvers", err)
		return
	}
	if users == nil {
		users = []*entity.Principal{}
	}
	ok(c, http.StatusOK, users)
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req service.PrincipalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.services.Principals.CreatePrincipal(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		h.fail(c, "create user", err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// UpdateUser handles PUT /api/users/:id
func (h *Handlers) UpdateUser(c *gin.Context) {
	var req service.PrincipalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.services.Principals.UpdatePrincipal(c.Request.Context(), currentPrincipal(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "update user", err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteUser handles DELETE /api/users/:id
func (h *Handlers) DeleteUser(c *gin.Context) {
	if err := h.services.Principals.DeletePrincipal(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		h.fail(c, "delete user", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

// GetCompany handles GET /api/company
func (h *Handlers) GetCompany(c *gin.Context) {
	company, err := h.services.Companies.GetCompany(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.fail(c, "get company", err)
		return
	}
	ok(c, http.StatusOK, company)
}

// UpdateCompany handles PUT /api/company
func (h *Handlers) UpdateCompany(c *gin.Context) {
	var req service.CompanySettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	company, err := h.services.Companies.UpdateSettings(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		h.fail(c, "update company", err)
		return
	}
	ok(c, http.StatusOK, company)
}
