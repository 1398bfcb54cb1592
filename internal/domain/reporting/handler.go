package reporting

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reports := api.Group("/reports")

	admin := reports.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/overview", h.Overview)
	admin.GET("/appointments-per-day", h.AppointmentsPerDay)
	admin.GET("/department-load", h.DepartmentLoad)

	staff := reports.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	staff.GET("/doctor-workload/:id", h.DoctorWorkload)

	patients := reports.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePatient))
	patients.GET("/patient-summary/:id", h.PatientSummary)
}

func (h *Handler) Overview(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	ov, err := h.svc.Overview(c.Request().Context(), actor)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *Handler) AppointmentsPerDay(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())

	// Default window: the trailing 30 days.
	to := scheduling.Today()
	from := to.AddDays(-30)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = scheduling.ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = scheduling.ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	days, err := h.svc.AppointmentsPerDay(c.Request().Context(), actor, from, to)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"from": from, "to": to, "data": days})
}

func (h *Handler) DoctorWorkload(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	wl, err := h.svc.DoctorWorkload(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, wl)
}

func (h *Handler) PatientSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	ps, err := h.svc.PatientSummary(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *Handler) DepartmentLoad(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	loads, err := h.svc.DepartmentLoad(c.Request().Context(), actor)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, loads)
}
