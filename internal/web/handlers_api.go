package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"comfy-studio/internal/analyzer"
	"comfy-studio/internal/batch"
	"comfy-studio/internal/executor"
)

// scriptPath resolves a script name under the scripts directory. Names with
// path separators or traversal are rejected.
func (s *Server) scriptPath(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", false
	}
	if filepath.Ext(name) == "" {
		name += ".lua"
	}
	return filepath.Join(s.scriptsDir, name), true
}

func scriptBase(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

type scriptInfo struct {
	Name       string `json:"name"`
	HasMapping bool   `json:"has_mapping"`
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.scriptsDir)
	if err != nil {
		s.logger.Error("list scripts", "dir", s.scriptsDir, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	scripts := []scriptInfo{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		info := scriptInfo{Name: e.Name()}
		if _, err := s.analyzer.LoadMapping(scriptBase(e.Name())); err == nil {
			info.HasMapping = true
		}
		scripts = append(scripts, info)
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

type analyzeResponse struct {
	Parameters []analyzer.ParameterInfo `json:"parameters"`
	Mapping    analyzer.PromptMapping   `json:"mapping"`
}

func (s *Server) handleAPIAnalyzeScript(w http.ResponseWriter, r *http.Request) {
	path, ok := s.scriptPath(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid script name"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}

	params, mapping := s.analyzer.AnalyzeScript(path)
	if err := s.analyzer.SaveMapping(scriptBase(path), mapping); err != nil {
		s.logger.Error("save mapping", "script", path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	s.writeJSON(w, http.StatusOK, analyzeResponse{Parameters: params, Mapping: mapping})
}

func (s *Server) handleAPIValidateScript(w http.ResponseWriter, r *http.Request) {
	path, ok := s.scriptPath(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid script name"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, executor.ValidateFile(path))
}

func (s *Server) handleAPIGetMapping(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.scriptPath(name); !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid script name"})
		return
	}

	mapping, err := s.analyzer.LoadMapping(scriptBase(name))
	if err != nil {
		if errors.Is(err, analyzer.ErrMappingNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "mapping not found"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleAPISaveMapping(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.scriptPath(name); !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid script name"})
		return
	}

	var mapping analyzer.PromptMapping
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&mapping); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.analyzer.SaveMapping(scriptBase(name), mapping); err != nil {
		s.logger.Error("save mapping", "script", name, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startBatchRequest struct {
	Script  string        `json:"script"`
	Items   []batch.Item  `json:"items"`
	Options batch.Options `json:"options"`
}

func (s *Server) handleAPIStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items must not be empty"})
		return
	}

	path, ok := s.scriptPath(req.Script)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid script name"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	if s.runner.Running() {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "a batch is already running"})
		return
	}

	s.batchWg.Add(1)
	go func() {
		defer s.batchWg.Done()
		s.runner.Run(context.Background(), path, req.Items, req.Options, s.emit)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"items":  len(req.Items),
	})
}

func (s *Server) handleAPIStopBatch(w http.ResponseWriter, r *http.Request) {
	s.runner.RequestStop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleAPIBatchStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": s.runner.Running()})
}

func (s *Server) handleAPIListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns()
	if err != nil {
		s.logger.Error("list runs", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIListTrends(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTrends()
	if err != nil {
		s.logger.Error("list trends", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAPIDeleteTrend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTrend(id); err != nil {
		s.logger.Error("delete trend", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type collectTrendsRequest struct {
	Feed  string `json:"feed"`
	Limit int    `json:"limit"`
}

func (s *Server) handleAPICollectTrends(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "trend collection not configured"})
		return
	}

	var req collectTrendsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Feed == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feed must not be empty"})
		return
	}

	collected, err := s.collector.Collect(r.Context(), req.Feed, req.Limit)
	if err != nil {
		s.logger.Error("collect trends", "feed", req.Feed, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "collection failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, collected)
}

func (s *Server) handleAPIGeneratePrompt(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prompt generation not configured"})
		return
	}

	id := r.PathValue("id")
	tr, err := s.store.GetTrend(id)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "trend not found"})
		return
	}

	result := s.generator.Generate(r.Context(), tr)
	if result.Err != "" {
		s.writeJSON(w, http.StatusBadGateway, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
