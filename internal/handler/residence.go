package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tahiry/fokontany/internal/domain"
	"github.com/tahiry/fokontany/internal/service"
)

// ResidenceHandler handles the submission/approval workflow endpoints.
type ResidenceHandler struct {
	workflow *service.WorkflowService
}

// NewResidenceHandler creates a new ResidenceHandler.
func NewResidenceHandler(workflow *service.WorkflowService) *ResidenceHandler {
	return &ResidenceHandler{workflow: workflow}
}

type submitResidenceRequest struct {
	Lot         string  `json:"lot" validate:"required"`
	ZoneID      int64   `json:"zone_id" validate:"required"`
	Address     string  `json:"address"`
	Description *string `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Submit records a new residence. Depending on the caller's role the result
// is either a registry record or a pending submission.
func (h *ResidenceHandler) Submit(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	var req submitResidenceRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.workflow.Submit(c.Request().Context(), user, domain.ResidencePayload{
		Lot:         req.Lot,
		ZoneID:      req.ZoneID,
		Address:     req.Address,
		Description: req.Description,
		Lat:         req.Lat,
		Lng:         req.Lng,
	})
	if err != nil {
		return err
	}

	return JSON(c, http.StatusCreated, result)
}

// ListPending returns the pending submissions visible to the reviewer.
func (h *ResidenceHandler) ListPending(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	subs, err := h.workflow.ListPending(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, subs)
}

// ListMine returns the caller's own submissions.
func (h *ResidenceHandler) ListMine(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	subs, err := h.workflow.ListMine(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, subs)
}

type decideRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Notes    string `json:"notes"`
}

// Decide applies a reviewer's verdict to a pending submission.
func (h *ResidenceHandler) Decide(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid submission id", domain.ErrInvalidInput)
	}

	var req decideRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.workflow.Decide(c.Request().Context(), user, submissionID, service.Decision(req.Decision), req.Notes)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, result)
}
