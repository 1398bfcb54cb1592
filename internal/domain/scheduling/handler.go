package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/pkg/apperror"
	"github.com/clinicore/clinicore/pkg/pagination"
)

// OpRecorder observes scheduling operations for metrics. A nil recorder
// disables recording.
type OpRecorder func(operation, outcome string)

type Handler struct {
	svc *Service
	ops OpRecorder
}

func NewHandler(svc *Service, ops OpRecorder) *Handler {
	return &Handler{svc: svc, ops: ops}
}

func (h *Handler) record(op string, err error) {
	if h.ops == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperror.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	h.ops(op, outcome)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reads and cancel are open to every role; the policy gate re-checks
	// ownership and assignment per record.
	all := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RolePatient))
	all.GET("/availability/:doctorID", h.ListUpcomingSlots)
	all.GET("/availability/:doctorID/open", h.FindOpenSlot)
	all.GET("/appointments", h.ListAppointments)
	all.GET("/appointments/:id", h.GetAppointment)
	all.GET("/appointments/:id/treatment", h.GetTreatment)
	all.GET("/patients/:id/treatments", h.ListPatientTreatments)
	all.POST("/appointments/:id/cancel", h.CancelAppointment)

	staff := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	staff.POST("/availability", h.AddSlot)
	staff.DELETE("/availability/:id", h.RemoveSlot)
	staff.GET("/doctors/:id/treatments", h.ListDoctorTreatments)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	doctor.POST("/appointments/:id/complete", h.CompleteAppointment)

	booking := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePatient))
	booking.POST("/appointments", h.BookAppointment)
	booking.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
}

// -- Availability Handlers --

func (h *Handler) AddSlot(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	var sl Slot
	if err := c.Bind(&sl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.AddSlot(c.Request().Context(), actor, &sl)
	h.record("add_slot", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) RemoveSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	err = h.svc.RemoveSlot(c.Request().Context(), actor, id)
	h.record("remove_slot", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUpcomingSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}

	from := Today()
	to := from.AddDays(7)
	if v := c.QueryParam("from"); v != "" {
		if from, err = ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	slots, err := h.svc.ListUpcoming(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"from": from, "to": to, "data": slots})
}

func (h *Handler) FindOpenSlot(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sl, err := h.svc.FindOpenSlot(c.Request().Context(), doctorID, date, c.QueryParam("time"))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sl)
}

// -- Appointment Handlers --

func (h *Handler) BookAppointment(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt, err := h.svc.Book(c.Request().Context(), actor, &req)
	h.record("book", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	appt, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)

	filter := AppointmentFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("date"); v != "" {
		date, err := ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Date = &date
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		filter.DoctorID = id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = id
	}

	appts, total, err := h.svc.List(c.Request().Context(), actor, filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	appt, err := h.svc.Confirm(c.Request().Context(), actor, id)
	h.record("confirm", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	appt, err := h.svc.Cancel(c.Request().Context(), actor, id)
	h.record("cancel", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	var body struct {
		Date Date   `json:"date"`
		Time string `json:"time"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt, err := h.svc.Reschedule(c.Request().Context(), actor, id, body.Date, body.Time)
	h.record("reschedule", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	var in TreatmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt, trt, err := h.svc.Complete(c.Request().Context(), actor, id, &in)
	h.record("complete", err)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"appointment": appt, "treatment": trt})
}

// -- Treatment Handlers --

func (h *Handler) GetTreatment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())

	trt, err := h.svc.TreatmentByAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, trt)
}

func (h *Handler) ListPatientTreatments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)

	treatments, total, err := h.svc.TreatmentsForPatient(c.Request().Context(), actor, id, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(treatments, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListDoctorTreatments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)

	treatments, total, err := h.svc.TreatmentsForDoctor(c.Request().Context(), actor, id, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(treatments, total, pg.Limit, pg.Offset))
}
