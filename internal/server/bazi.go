package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/llm"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

type baziRequest struct {
	BirthDate string `json:"birth_date" validate:"required"`
	BirthTime string `json:"birth_time" validate:"required"`
	Gender    *int   `json:"gender" validate:"omitempty,oneof=0 1"`
	Timezone  string `json:"timezone"`
	UseLLM    bool   `json:"use_llm"`
}

type baziData struct {
	Chart   *bazi.Chart    `json:"chart"`
	Wuxing  map[string]int `json:"wuxing"`
	Report  string         `json:"report"`
	Profile string         `json:"profile"`
}

type baziResponse struct {
	Success     bool     `json:"success"`
	Data        baziData `json:"data"`
	LLMAnalysis string   `json:"llm_analysis,omitempty"`
}

type baziHandler struct {
	charts  ChartService
	gateway llm.Gateway
	now     func() time.Time
}

func newBaziHandler(charts ChartService, gateway llm.Gateway) *baziHandler {
	return &baziHandler{charts: charts, gateway: gateway, now: time.Now}
}

func (h *baziHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.charts == nil {
		respondError(w, http.StatusServiceUnavailable, "chart calculator is not configured")
		return
	}

	var req baziRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateStruct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	gender := 1
	if req.Gender != nil {
		gender = *req.Gender
	}
	chart, err := h.charts.Chart(r.Context(), bazi.Request{
		SolarDatetime: bazi.ISODatetime(req.BirthDate, req.BirthTime, req.Timezone),
		Gender:        gender,
	})
	if err != nil {
		logx.Error().Err(err).Str("birth_date", req.BirthDate).Msg("Chart calculation failed")
		respondError(w, errx.StatusOf(err), errx.OracleErrorMessage)
		return
	}

	resp := baziResponse{
		Success: true,
		Data: baziData{
			Chart:   chart,
			Wuxing:  bazi.ElementTally(chart).Map(),
			Report:  bazi.Report(chart, h.now()),
			Profile: bazi.FormatForLLM(chart),
		},
	}
	if req.UseLLM && h.gateway != nil {
		analysis, err := bazi.Interpret(r.Context(), h.gateway, chart)
		if err != nil {
			logx.Warn().Err(err).Msg("Chart interpretation failed")
		} else {
			resp.LLMAnalysis = analysis
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
