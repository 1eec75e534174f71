// Package web provides HTTP handlers for onboarding, lifecycle actions and dashboards.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/onboarding"
	"github.com/dukex/provisioner/pkg/services"
)

// Catalog reads published automation templates.
type Catalog interface {
	AvailableAutomations(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, automationID string) (*models.WorkflowTemplate, error)
	Versions(ctx context.Context, automationID string) ([]*models.WorkflowTemplate, error)
}

type APIHandlers struct {
	core       *services.Core
	onboarding *onboarding.Machine
	catalog    Catalog
	validator  *validator.Validate
}

func NewAPIHandlers(
	core *services.Core,
	machine *onboarding.Machine,
	catalog Catalog,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		core:       core,
		onboarding: machine,
		catalog:    catalog,
		validator:  validator,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	router.Post("/integrations/validate", h.ValidateIntegration)
	router.Post("/automations/readiness", h.CheckReadiness)
	router.Get("/automations", h.ListAutomations)
	router.Get("/automations/:id/versions", h.ListAutomationVersions)
	router.Get("/fleet/health", h.FleetHealth)

	p := router.Group("/purchases")
	p.Post("/", h.CreatePurchase)
	p.Post("/:id/jobs", h.EnqueueJob)
	p.Get("/:id/health", h.GetInstanceHealth)
	p.Get("/:id/stats", h.GetStats)
	p.Get("/:id/onboarding", h.GetOnboarding)
	p.Post("/:id/onboarding/evaluate", h.EvaluateOnboarding)
	p.Post("/:id/credentials", h.SubmitCredentials)
	p.Post("/:id/review", h.ConfirmReview)
	p.Post("/:id/activate", h.Activate)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.core.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Provisioner API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Provisioner API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ValidateIntegration(c fiber.Ctx) error {
	var req ValidateIntegrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.core.ValidateIntegration(c.Context(), req.Service, req.Credentials)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CheckReadiness(c fiber.Ctx) error {
	var req ReadinessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.core.CheckAutomationReadiness(c.Context(), req.RequiredServices, req.Credentials)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ListAutomations(c fiber.Ctx) error {
	ids, err := h.catalog.AvailableAutomations(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	automations := make([]AutomationResponse, 0, len(ids))

	for _, id := range ids {
		latest, err := h.catalog.Latest(c.Context(), id)
		if err != nil {
			return handleServiceError(c, err)
		}

		automations = append(automations, TransformAutomationResponse(latest))
	}

	return c.JSON(fiber.Map{
		"automations": automations,
		"total_count": len(automations),
	})
}

func (h *APIHandlers) ListAutomationVersions(c fiber.Ctx) error {
	id := c.Params("id")

	versions, err := h.catalog.Versions(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if len(versions) == 0 {
		return notFound(c, "template_not_found", "automation not found")
	}

	return c.JSON(fiber.Map{
		"automation_id": id,
		"versions":      TransformTemplateVersions(versions),
	})
}

func (h *APIHandlers) FleetHealth(c fiber.Ctx) error {
	summary, err := h.core.FleetHealth(c.Context(), c.Query("tenant"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) CreatePurchase(c fiber.Ctx) error {
	var req CreatePurchaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	purchase := req.Purchase()

	progress, err := h.onboarding.Start(c.Context(), purchase)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"purchase":   purchase,
		"onboarding": progress,
	})
}

func (h *APIHandlers) EnqueueJob(c fiber.Ctx) error {
	var req EnqueueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	job, err := h.core.Enqueue(c.Context(), req.Action, c.Params("id"), req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (h *APIHandlers) GetInstanceHealth(c fiber.Ctx) error {
	view, err := h.core.GetInstanceHealth(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	result, err := h.core.GetStats(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// GetOnboarding returns the progress, completing it first when the instance is running.
func (h *APIHandlers) GetOnboarding(c fiber.Ctx) error {
	progress, err := h.onboarding.SyncInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

// EvaluateOnboarding revalidates the stored credentials, moving onboarding back
// when a provider no longer accepts them.
func (h *APIHandlers) EvaluateOnboarding(c fiber.Ctx) error {
	progress, err := h.onboarding.Evaluate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) SubmitCredentials(c fiber.Ctx) error {
	var req SubmitCredentialsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, progress, err := h.onboarding.SubmitCredentials(c.Context(), c.Params("id"), req.Service, req.Credentials)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"validation": result,
		"onboarding": progress,
	})
}

func (h *APIHandlers) ConfirmReview(c fiber.Ctx) error {
	progress, err := h.onboarding.ConfirmReview(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) Activate(c fiber.Ctx) error {
	progress, job, err := h.onboarding.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"onboarding": progress,
		"job":        job,
	})
}
