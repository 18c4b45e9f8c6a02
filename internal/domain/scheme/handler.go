package scheme

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/auth"
	"github.com/medscheme/medscheme/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("scheme-admin"))

	g.GET("/schemes", h.ListSchemes)
	g.POST("/schemes", h.CreateScheme)
	g.GET("/schemes/:id", h.GetScheme)
	g.PUT("/schemes/:id", h.UpdateScheme)
	g.DELETE("/schemes/:id", h.DeactivateScheme)

	g.POST("/schemes/:id/renew", h.Renew)
	g.POST("/schemes/renew-bulk", h.BulkRenew)
	g.GET("/schemes/:id/renewal-readiness", h.RenewalReadiness)
	g.GET("/schemes/:id/renewal-suggestion", h.RenewalSuggestion)
	g.GET("/schemes/:id/periods", h.ListPeriods)
	g.GET("/schemes/:id/stats", h.Stats)

	g.GET("/scheme-periods/expiring", h.ExpiringPeriods)
	g.GET("/scheme-periods/:id", h.GetPeriod)
	g.PUT("/scheme-periods/:id", h.UpdatePeriod)
	g.POST("/scheme-periods/:id/terminate", h.TerminatePeriod)
	g.POST("/scheme-periods/:id/activate", h.ActivatePeriod)
	g.GET("/scheme-periods/:id/items", h.ListItems)
	g.POST("/scheme-periods/:id/items", h.AddItem)
}

const dateLayout = "2006-01-02"

// periodPayload is the wire shape for period dates, which travel as plain
// YYYY-MM-DD strings rather than RFC3339 timestamps.
type periodPayload struct {
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	LimitAmount  *string `json:"limit_amount,omitempty"`
	PeriodNumber *int    `json:"period_number,omitempty"`
	Remark       string  `json:"remark,omitempty"`
}

func (p *periodPayload) toInput() (PeriodInput, error) {
	var input PeriodInput
	var err error
	if p.StartDate != "" {
		if input.StartDate, err = time.Parse(dateLayout, p.StartDate); err != nil {
			return input, apperror.NewInvalidValue("start_date", "must be YYYY-MM-DD")
		}
	}
	if p.EndDate != "" {
		if input.EndDate, err = time.Parse(dateLayout, p.EndDate); err != nil {
			return input, apperror.NewInvalidValue("end_date", "must be YYYY-MM-DD")
		}
	}
	if p.LimitAmount != nil {
		d, err := decimal.NewFromString(*p.LimitAmount)
		if err != nil {
			return input, apperror.NewInvalidValue("limit_amount", "must be a decimal number")
		}
		input.LimitAmount = &d
	}
	input.PeriodNumber = p.PeriodNumber
	input.Remark = p.Remark
	return input, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateScheme(c echo.Context) error {
	var req struct {
		Scheme
		InitialPeriod periodPayload `json:"initial_period"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	input, err := req.InitialPeriod.toInput()
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	period, err := h.svc.CreateScheme(c.Request().Context(), &req.Scheme, input)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"scheme": req.Scheme, "initial_period": period})
}

func (h *Handler) GetScheme(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sch, err := h.svc.GetScheme(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, sch)
}

func (h *Handler) ListSchemes(c echo.Context) error {
	pg := pagination.FromContext(c)
	var companyID *uuid.UUID
	if raw := c.QueryParam("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid company_id")
		}
		companyID = &id
	}
	includeDeleted := c.QueryParam("include_deleted") == "true"
	items, total, err := h.svc.ListSchemes(c.Request().Context(), companyID, includeDeleted, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateScheme(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var sch Scheme
	if err := c.Bind(&sch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sch.ID = id
	if err := h.svc.UpdateScheme(c.Request().Context(), &sch); err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, sch)
}

func (h *Handler) DeactivateScheme(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateScheme(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Renew(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload struct {
		periodPayload
		Clone *CloneOptions `json:"clone,omitempty"`
	}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	input, err := payload.toInput()
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}

	var period *SchemePeriod
	if payload.Clone != nil {
		period, err = h.svc.RenewWithItems(c.Request().Context(), id, input, *payload.Clone)
	} else {
		period, err = h.svc.Renew(c.Request().Context(), id, input)
	}
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, period)
}

func (h *Handler) BulkRenew(c echo.Context) error {
	var payload struct {
		SchemeIDs []uuid.UUID `json:"scheme_ids"`
		Template  periodPayload `json:"template"`
	}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	template, err := payload.Template.toInput()
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	result, err := h.svc.BulkRenew(c.Request().Context(), payload.SchemeIDs, template)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) RenewalReadiness(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	report, err := h.svc.ValidateRenewalReadiness(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) RenewalSuggestion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	durationDays, _ := strconv.Atoi(c.QueryParam("duration_days"))
	start, end, err := h.svc.SuggestNextRenewalDates(c.Request().Context(), id, durationDays)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	overdue, daysOverdue, err := h.svc.IsRenewalOverdue(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"start_date":   start.Format(dateLayout),
		"end_date":     end.Format(dateLayout),
		"overdue":      overdue,
		"days_overdue": daysOverdue,
	})
}

func (h *Handler) ListPeriods(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	periods, err := h.svc.ListPeriods(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, periods)
}

func (h *Handler) Stats(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.GetPeriodStats(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ExpiringPeriods(c echo.Context) error {
	withinDays, _ := strconv.Atoi(c.QueryParam("within_days"))
	periods, err := h.svc.ExpiringPeriods(c.Request().Context(), withinDays)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, periods)
}

func (h *Handler) GetPeriod(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	period, err := h.svc.GetPeriod(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, period)
}

// periodUpdatePayload mirrors PeriodUpdate with string dates. Protected
// fields are still bound so supplying them fails loudly in the service.
type periodUpdatePayload struct {
	StartDate       *string `json:"start_date,omitempty"`
	EndDate         *string `json:"end_date,omitempty"`
	TerminationDate *string `json:"termination_date,omitempty"`
	LimitAmount     *string `json:"limit_amount,omitempty"`
	Remark          *string `json:"remark,omitempty"`
	Status          *string `json:"status,omitempty"`
	IsCurrent       *bool   `json:"is_current,omitempty"`

	PeriodNumber  *int    `json:"period_number,omitempty"`
	SchemeID      *string `json:"scheme_id,omitempty"`
	RenewedFromID *string `json:"renewed_from_id,omitempty"`
	RenewalDate   *string `json:"renewal_date,omitempty"`
}

func (p *periodUpdatePayload) toUpdate() (PeriodUpdate, error) {
	var upd PeriodUpdate
	parseDate := func(field string, raw *string) (*time.Time, error) {
		if raw == nil {
			return nil, nil
		}
		t, err := time.Parse(dateLayout, *raw)
		if err != nil {
			return nil, apperror.NewInvalidValue(field, "must be YYYY-MM-DD")
		}
		return &t, nil
	}
	var err error
	if upd.StartDate, err = parseDate("start_date", p.StartDate); err != nil {
		return upd, err
	}
	if upd.EndDate, err = parseDate("end_date", p.EndDate); err != nil {
		return upd, err
	}
	if upd.TerminationDate, err = parseDate("termination_date", p.TerminationDate); err != nil {
		return upd, err
	}
	if upd.RenewalDate, err = parseDate("renewal_date", p.RenewalDate); err != nil {
		return upd, err
	}
	if p.LimitAmount != nil {
		d, err := decimal.NewFromString(*p.LimitAmount)
		if err != nil {
			return upd, apperror.NewInvalidValue("limit_amount", "must be a decimal number")
		}
		upd.LimitAmount = &d
	}
	parseID := func(field string, raw *string) (*uuid.UUID, error) {
		if raw == nil {
			return nil, nil
		}
		id, err := uuid.Parse(*raw)
		if err != nil {
			return nil, apperror.NewInvalidValue(field, "must be a UUID")
		}
		return &id, nil
	}
	if upd.SchemeID, err = parseID("scheme_id", p.SchemeID); err != nil {
		return upd, err
	}
	if upd.RenewedFromID, err = parseID("renewed_from", p.RenewedFromID); err != nil {
		return upd, err
	}
	upd.Remark = p.Remark
	upd.Status = p.Status
	upd.IsCurrent = p.IsCurrent
	upd.PeriodNumber = p.PeriodNumber
	return upd, nil
}

func (h *Handler) UpdatePeriod(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload periodUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	upd, err := payload.toUpdate()
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	period, err := h.svc.UpdatePeriod(c.Request().Context(), id, upd)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, period)
}

func (h *Handler) TerminatePeriod(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	period, err := h.svc.TerminatePeriod(c.Request().Context(), id, payload.Reason)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, period)
}

func (h *Handler) ActivatePeriod(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	period, err := h.svc.ActivatePeriod(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, period)
}

func (h *Handler) ListItems(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListItems(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var item SchemeItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item.SchemePeriodID = id
	if err := h.svc.AddItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, item)
}
