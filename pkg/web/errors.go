package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/provisioner/pkg/onboarding"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service, onboarding and persistence errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err),
		errors.Is(err, onboarding.ErrInvalidPurchase),
		errors.Is(err, onboarding.ErrServiceNotRequired):
		return badRequest(c, err.Error())

	case services.IsConflictError(err), errors.Is(err, onboarding.ErrInvalidStep):
		return conflict(c, err.Error())

	case persistence.IsPurchaseNotFound(err):
		return notFound(c, "purchase_not_found", "purchase not found")

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "instance_not_found", "no instance for purchase")

	case persistence.IsOnboardingNotFound(err):
		return notFound(c, "onboarding_not_found", "onboarding not started")

	case persistence.IsTemplateNotFound(err):
		return notFound(c, "template_not_found", "automation not found")

	case persistence.IsJobNotFound(err):
		return notFound(c, "job_not_found", "job not found")

	default:
		return internalError(c, err)
	}
}
