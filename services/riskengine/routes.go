// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package riskengine

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the riskboard API routes.
//
// # Endpoints
//
//	GET  /v1/health                 - Liveness
//	GET  /v1/ready                  - Scheduler running and an assessment available
//	GET  /v1/assessment             - Latest and last good assessment
//	GET  /v1/assessment/stream      - Websocket push of every published assessment
//	POST /v1/refresh                - Request a refresh (rate limited)
//	GET  /v1/sources                - Configured sources with latest status
//	GET  /v1/assessments/recent     - Retained assessments, newest first
//
// # Example
//
//	router := gin.New()
//	v1 := router.Group("/v1")
//	riskengine.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)
	rg.GET("/ready", h.HandleReady)

	rg.GET("/assessment", h.HandleAssessment)
	rg.GET("/assessment/stream", h.HandleStream)
	rg.GET("/assessments/recent", h.HandleRecent)
	rg.POST("/refresh", h.HandleRefresh)
	rg.GET("/sources", h.HandleSources)
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Debug enables gin's request logger.
	Debug bool

	// Gatherer backs GET /metrics. nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine with tracing middleware, the API under
// /v1 and the Prometheus endpoint.
func NewRouter(cfg RouterConfig, h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "riskboard"
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	RegisterRoutes(router.Group("/v1"), h)
	return router
}
