// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libraryhub/pkg/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts /members and /auth/login.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)

	r.Route("/members", func(r chi.Router) {
		r.Get("/", h.handleListMembers)
		r.Post("/", h.handleRegisterMember)
		r.Get("/email/{email}", h.handleGetMemberByEmail)
		r.Get("/{id}", h.handleGetMember)
		r.Put("/{id}", h.handleUpdateMember)
		r.Patch("/{id}/status", h.handleUpdateStatus)
		r.Delete("/{id}", h.handleDeleteMember)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, token)
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req MemberInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	member, err := h.service.RegisterMember(WithClientIP(r.Context(), remoteIP(r)), req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, member)
}

// handleListMembers serves GET /members?name=&status=.
func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	page, err := web.ParsePage(r)
	if err != nil {
		web.Error(w, err)
		return
	}

	filter := MemberFilter{Name: r.URL.Query().Get("name")}
	if v := r.URL.Query().Get("status"); v != "" {
		if filter.Status, err = ParseStatus(v); err != nil {
			web.Error(w, err)
			return
		}
	}

	members, err := h.service.ListMembers(r.Context(), filter, page)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleGetMemberByEmail(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMemberByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req MemberInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	member, err := h.service.UpdateMember(r.Context(), id, req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	member, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.DeleteMember(r.Context(), id); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
