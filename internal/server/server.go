package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	analysisdomain "github.com/smallbiznis/autora/internal/analysis/domain"
	"github.com/smallbiznis/autora/internal/config"
	comprehensivedomain "github.com/smallbiznis/autora/internal/comprehensive/domain"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	"github.com/smallbiznis/autora/internal/providers/pdf"
	"github.com/smallbiznis/autora/internal/ratelimit"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	log              *zap.Logger
	genID            *snowflake.Node
	analysisSvc      analysisdomain.Service
	comprehensiveSvc comprehensivedomain.Service
	creditSvc        creditdomain.Service
	reportSvc        reportdomain.Service
	pdfProvider      pdf.Provider
	inFlight         *ratelimit.InFlightLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Log              *zap.Logger
	GenID            *snowflake.Node
	AnalysisSvc      analysisdomain.Service
	ComprehensiveSvc comprehensivedomain.Service
	CreditSvc        creditdomain.Service
	ReportSvc        reportdomain.Service
	PDFProvider      pdf.Provider
	InFlight         *ratelimit.InFlightLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		genID:            p.GenID,
		analysisSvc:      p.AnalysisSvc,
		comprehensiveSvc: p.ComprehensiveSvc,
		creditSvc:        p.CreditSvc,
		reportSvc:        p.ReportSvc,
		pdfProvider:      p.PDFProvider,
		inFlight:         p.InFlight,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.UserRequired())

	v1.POST("/analyses", s.StartAnalysis)

	v1.GET("/reports", s.ListReports)
	v1.GET("/reports/:id", s.GetReport)
	v1.POST("/reports/:id/export", s.ExportReport)

	v1.POST("/credits/purchase", s.PurchaseCredits)
	v1.GET("/credits/balance", s.GetBalance)
	v1.GET("/credits/transactions", s.ListTransactions)
}
