package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tahiry/fokontany/internal/domain"
	"github.com/tahiry/fokontany/internal/service"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the caller's notifications, newest-first.
func (h *NotificationHandler) List(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	notifications, err := h.notifications.List(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, notifications)
}

// MarkRead flips the read flag on one of the caller's notifications.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid notification id", domain.ErrInvalidInput)
	}

	n, err := h.notifications.MarkRead(c.Request().Context(), user, id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, n)
}
