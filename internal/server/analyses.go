package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	analysisdomain "github.com/smallbiznis/autora/internal/analysis/domain"
	comprehensivedomain "github.com/smallbiznis/autora/internal/comprehensive/domain"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

type startAnalysisRequest struct {
	Module    string   `json:"module" binding:"required"`
	ImageRefs []string `json:"image_refs"`
	AudioRef  string   `json:"audio_ref"`
	Vehicle   struct {
		Make    string `json:"make"`
		Model   string `json:"model"`
		Year    int    `json:"year"`
		Mileage int64  `json:"mileage"`
	} `json:"vehicle"`
}

func (r startAnalysisRequest) inputPayload() evaluatordomain.InputPayload {
	return evaluatordomain.InputPayload{
		ImageRefs: r.ImageRefs,
		AudioRef:  r.AudioRef,
		Vehicle: evaluatordomain.VehicleInfo{
			Make:    r.Vehicle.Make,
			Model:   r.Vehicle.Model,
			Year:    r.Vehicle.Year,
			Mileage: r.Vehicle.Mileage,
		},
	}
}

// StartAnalysis runs a single-module or comprehensive analysis
// synchronously. A failed analysis is not an HTTP transport error per
// se, but after retries the evaluator being down is a gateway problem,
// so the outcome rides on a 502.
func (s *Server) StartAnalysis(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req startAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	release, err := s.inFlight.Acquire(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer release()

	module := reportdomain.ModuleType(req.Module)
	var outcome analysisdomain.Outcome
	if module == reportdomain.ModuleComprehensive {
		outcome, err = s.comprehensiveSvc.Start(c.Request.Context(), comprehensivedomain.Request{
			UserID: userID,
			Input:  req.inputPayload(),
		})
	} else {
		outcome, err = s.analysisSvc.Run(c.Request.Context(), analysisdomain.AnalysisRequest{
			UserID: userID,
			Module: module,
			Input:  req.inputPayload(),
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if outcome.Status == reportdomain.StatusFailed {
		c.JSON(http.StatusBadGateway, gin.H{
			"report_id":       outcome.ReportID.String(),
			"status":          string(outcome.Status),
			"refunded":        outcome.Refunded,
			"amount_refunded": outcome.AmountRefunded,
			"message":         outcome.Message,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"report_id":    outcome.ReportID.String(),
		"status":       string(outcome.Status),
		"cost_charged": outcome.CostCharged,
		"result":       outcome.Result,
	})
}
