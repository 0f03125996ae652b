// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"libraryhub/internal/membership"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts /loans.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.handleListLoans)
		r.Post("/", h.handleCreateLoan)
		r.Get("/overdue", h.handleListOverdue)
		r.Patch("/update-overdue", h.handleUpdateOverdue)
		r.Get("/date-range", h.handleListByDateRange)
		r.Get("/member/{memberId}", h.handleListByMember)
		r.Get("/book/{bookId}", h.handleListByBook)
		r.Get("/status/{status}", h.handleListByStatus)
		r.Get("/eligibility/{memberId}", h.handleCanBorrow)
		r.Get("/{id}", h.handleGetLoan)
		r.Put("/{id}", h.handleUpdateLoan)
		r.Delete("/{id}", h.handleDeleteLoan)
		r.Patch("/{id}/return", h.handleReturnLoan)
		r.Get("/{id}/history", h.handleHistory)
	})
}

// HandleMyLoans lists the loans of the authenticated member. It must run
// behind TokenIssuer.RequireMember.
func (h *Handler) HandleMyLoans(w http.ResponseWriter, r *http.Request) {
	memberID, ok := membership.MemberIDFrom(r.Context())
	if !ok {
		web.Error(w, apperr.Unauthorized("INVALID_TOKEN", "missing or invalid bearer token"))
		return
	}
	h.list(w, r, LoanFilter{MemberID: &memberID})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter LoanFilter) {
	page, err := web.ParsePage(r)
	if err != nil {
		web.Error(w, err)
		return
	}
	loans, err := h.service.ListLoans(r.Context(), filter, page)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, loans)
}

// handleListLoans serves GET /loans?memberId=&bookId=&status=&start=&end=.
func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	var (
		filter LoanFilter
		err    error
	)
	if filter.MemberID, err = web.OptionalUUIDQuery(r, "memberId"); err != nil {
		web.Error(w, err)
		return
	}
	if filter.BookID, err = web.OptionalUUIDQuery(r, "bookId"); err != nil {
		web.Error(w, err)
		return
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if filter.Status, err = ParseStatus(v); err != nil {
			web.Error(w, err)
			return
		}
	}
	if filter.From, err = optionalDate(r, "start"); err != nil {
		web.Error(w, err)
		return
	}
	if filter.To, err = optionalDate(r, "end"); err != nil {
		web.Error(w, err)
		return
	}
	h.list(w, r, filter)
}

func optionalDate(r *http.Request, name string) (time.Time, error) {
	if r.URL.Query().Get(name) == "" {
		return time.Time{}, nil
	}
	return web.DateQuery(r, name)
}

func (h *Handler) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	loan, err := h.service.CreateLoan(r.Context(), req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, LoanFilter{Status: StatusOverdue})
}

// handleUpdateOverdue triggers the Overdue Sweeper.
func (h *Handler) handleUpdateOverdue(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.AgeCheck(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListByDateRange(w http.ResponseWriter, r *http.Request) {
	start, err := web.DateQuery(r, "start")
	if err != nil {
		web.Error(w, err)
		return
	}
	end, err := web.DateQuery(r, "end")
	if err != nil {
		web.Error(w, err)
		return
	}
	if end.Before(start) {
		web.Error(w, apperr.Invalid("end must not be before start"))
		return
	}
	h.list(w, r, LoanFilter{From: start, To: end})
}

func (h *Handler) handleListByMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := web.UUIDParam(r, "memberId")
	if err != nil {
		web.Error(w, err)
		return
	}
	h.list(w, r, LoanFilter{MemberID: &memberID})
}

func (h *Handler) handleListByBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := web.UUIDParam(r, "bookId")
	if err != nil {
		web.Error(w, err)
		return
	}
	h.list(w, r, LoanFilter{BookID: &bookID})
}

func (h *Handler) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		web.Error(w, err)
		return
	}
	h.list(w, r, LoanFilter{Status: status})
}

func (h *Handler) handleCanBorrow(w http.ResponseWriter, r *http.Request) {
	memberID, err := web.UUIDParam(r, "memberId")
	if err != nil {
		web.Error(w, err)
		return
	}
	decision, err := h.service.CanBorrow(r.Context(), memberID)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, decision)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleUpdateLoan(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req UpdateLoanInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	loan, err := h.service.UpdateLoan(r.Context(), id, req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleDeleteLoan(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.DeleteLoan(r.Context(), id); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	loan, err := h.service.ReturnLoan(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	history, err := h.service.History(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, history)
}
