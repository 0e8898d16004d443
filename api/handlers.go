package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stellarlinkco/call-eval/internal/runner"
	"github.com/stellarlinkco/call-eval/internal/store"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

type startRunRequest struct {
	Suite string `json:"suite"`
}

type suiteSummary struct {
	Suite       string `json:"suite"`
	Description string `json:"description,omitempty"`
	Cases       int    `json:"cases"`
	Personas    int    `json:"personas"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListSuites(c *gin.Context) {
	suites, err := testcase.LoadFromDir(s.suitesDir)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	summaries := make([]suiteSummary, 0, len(suites))
	for _, suite := range suites {
		if suite == nil {
			continue
		}
		summaries = append(summaries, suiteSummary{
			Suite:       suite.Suite,
			Description: suite.Description,
			Cases:       len(suite.Cases),
			Personas:    len(suite.Personas),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return strings.ToLower(summaries[i].Suite) < strings.ToLower(summaries[j].Suite)
	})

	c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleGetSuite(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing suite name"))
		return
	}

	suite, err := s.findSuite(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if suite == nil {
		respondError(c, http.StatusNotFound, fmt.Errorf("suite %q not found", name))
		return
	}

	c.JSON(http.StatusOK, suite)
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s == nil || s.app == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(req.Suite)
	if name == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing suite name"))
		return
	}

	suite, err := s.findSuite(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if suite == nil {
		respondError(c, http.StatusNotFound, fmt.Errorf("suite %q not found", name))
		return
	}

	run, err := s.app.PrepareRun(c.Request.Context(), suite)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	buf := s.events.create(run.ID)
	go func() {
		defer buf.finish()
		// The run outlives the HTTP request that launched it.
		_, _ = s.app.Runner.ExecuteRun(context.Background(), run.ID, suite, func(ev runner.Event) {
			buf.append(ev)
		})
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":      run.ID,
		"suite":       run.SuiteName,
		"status":      run.Status,
		"total_cases": run.TotalCases,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	filter := store.RunFilter{
		SuiteName: strings.TrimSpace(c.Query("suite")),
		Status:    store.RunStatus(strings.TrimSpace(c.Query("status"))),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid since timestamp %q", raw))
			return
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	runs, err := s.app.Store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	run, err := s.app.Store.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRunResults(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := s.app.Store.GetRun(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}

	results, err := s.app.Store.ListResults(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []*store.ResultRecord{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetRunResult(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	caseID := strings.TrimSpace(c.Param("case_id"))
	result, err := s.app.Store.GetResult(c.Request.Context(), runID, caseID)
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetRunEvents(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	after := 0
	if raw := strings.TrimSpace(c.Query("after")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid after cursor %q", raw))
			return
		}
		after = n
	}

	buf, ok := s.events.get(id)
	if !ok {
		// No live buffer: a run from a previous process still answers from
		// the store, with nothing left to stream.
		if _, err := s.app.Store.GetRun(c.Request.Context(), id); err != nil {
			respondError(c, http.StatusNotFound, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": []runner.Event{}, "next": after, "done": true})
		return
	}

	events, next, done := buf.since(after)
	c.JSON(http.StatusOK, gin.H{"events": events, "next": next, "done": done})
}

func (s *Server) findSuite(name string) (*testcase.TestSuite, error) {
	suites, err := testcase.LoadFromDir(s.suitesDir)
	if err != nil {
		return nil, err
	}
	for _, suite := range suites {
		if suite != nil && strings.EqualFold(strings.TrimSpace(suite.Suite), name) {
			return suite, nil
		}
	}
	return nil, nil
}

func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
