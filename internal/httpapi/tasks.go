package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

type createTaskRequest struct {
	Description string `json:"description"`
}

type createTaskResponse struct {
	TaskID      string        `json:"task_id"`
	Description string        `json:"description"`
	Status      status.Status `json:"status"`
	Message     string        `json:"message"`
}

type statusResponse struct {
	Status status.Status `json:"status"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "validation_failed", "description is required")
			return
		}
		respondError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body: "+err.Error())
		return
	}

	task, err := s.taskService.CreateTask(r.Context(), req.Description)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.touchSession(r, task.ID)

	respondJSON(w, http.StatusCreated, createTaskResponse{
		TaskID:      task.ID,
		Description: task.Description,
		Status:      task.Status,
		Message:     "Task created successfully",
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := s.taskID(r)
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("events")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			limit = n
		}
	}
	view, err := s.taskService.GetTask(id, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.taskService.Status(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: st})
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	snap, _, err := s.taskService.Action(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTaskStep(w http.ResponseWriter, r *http.Request) {
	step, err := s.taskService.Step(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (s *Server) handlePlannerThoughts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sessionID := s.touchSession(r, id)
	resp, err := s.taskService.PlannerThoughts(id, sessionID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkThoughtsSeen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sessionID := s.touchSession(r, id)
	if err := s.taskService.MarkThoughtsSeen(id, sessionID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.ResumeTask(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: task.Status})
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	if _, err := s.taskService.ApproveAction(s.taskID(r)); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true, Message: "Action approved"})
}

func (s *Server) handleRejectAction(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.RejectAction(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: task.Status})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.StopTask(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: task.Status})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.CancelGoal(s.taskID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: task.Status})
}

func (s *Server) taskID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	s.touchSession(r, id)
	return id
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, tasks.ErrInvalidTaskState), errors.Is(err, tasks.ErrTaskTerminal):
		respondError(w, http.StatusConflict, "invalid_task_state", err.Error())
	default:
		s.logger.Error("task request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
