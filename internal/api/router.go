package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/api/handlers"
	"github.com/your-org/deepguard/internal/api/ws"
	"github.com/your-org/deepguard/internal/auth"
	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/jobs"
)

// RouterConfig wires the HTTP surface. Store, object and queue fields are
// left nil when the backing service is disabled.
type RouterConfig struct {
	Config       *config.Config
	Images       handlers.ImageAnalyzer
	Videos       handlers.VideoAnalyzer
	Open         jobs.OpenFunc
	Probe        handlers.ProbeFunc
	VideoOptions analysis.Options

	Analyses handlers.AnalysisStore
	Jobs     handlers.JobStore
	Objects  handlers.ObjectStore
	Queue    handlers.JobQueue
	Checks   []handlers.Checker
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	srv := cfg.Config.Server
	limits := handlers.Limits{
		MaxImageBytes:  srv.MaxImageBytes(),
		MaxVideoBytes:  srv.MaxVideoBytes(),
		MaxBatch:       srv.MaxBatch,
		RequestTimeout: srv.RequestTimeout,
	}

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Config, cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(srv.APIKey))

	v1.GET("/info", systemH.Info)

	predictH := handlers.NewPredictHandler(cfg.Images, limits)
	predictH.Store = cfg.Analyses
	predictH.Objects = cfg.Objects
	v1.POST("/predict", predictH.Predict)
	v1.POST("/predict/batch", predictH.Batch)
	v1.POST("/search/similar", predictH.Similar)

	videoH := handlers.NewVideoHandler(cfg.Videos, cfg.Open, cfg.Probe, limits, cfg.VideoOptions)
	videoH.Store = cfg.Analyses
	v1.POST("/predict/video", videoH.Predict)
	v1.POST("/video/info", videoH.Info)

	jobH := handlers.NewJobHandler(cfg.Jobs, cfg.Objects, cfg.Queue, limits, cfg.VideoOptions.MaxFrames)
	v1.POST("/jobs", jobH.Create)
	v1.GET("/jobs/:id", jobH.Get)
	v1.DELETE("/jobs/:id", jobH.Cancel)

	analysisH := handlers.NewAnalysisHandler(cfg.Analyses, cfg.Objects)
	v1.GET("/analyses", analysisH.List)
	v1.GET("/analyses/:id", analysisH.Get)
	v1.GET("/analyses/:id/heatmap", analysisH.Heatmap)

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
