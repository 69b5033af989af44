package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"levelquest/internal/config"
	"levelquest/internal/version"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// VersionHandler reports the API build and, for a standalone worker, the
// worker's build fetched over HTTP
type VersionHandler struct {
	workerURL      string
	workerEmbedded bool
	client         *http.Client
}

// NewVersionHandler creates a new VersionHandler instance
func NewVersionHandler(cfg *config.Config, workerEmbedded bool) *VersionHandler {
	return &VersionHandler{
		workerURL:      strings.TrimSuffix(cfg.Server.WorkerInternalURL, "/"),
		workerEmbedded: workerEmbedded,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   config.WorkerVersionTimeout,
		},
	}
}

// GetVersion handles GET /v1/version
func (h *VersionHandler) GetVersion(c *gin.Context) {
	backend := version.For("levelquest-api")
	if h.workerEmbedded {
		c.JSON(http.StatusOK, gin.H{"backend": backend, "worker": version.For("levelquest-worker")})
		return
	}

	var workerVersion interface{} = gin.H{"error": "Worker unavailable"}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.workerURL+"/v1/version", nil)
	if err == nil {
		resp, doErr := h.client.Do(req)
		if doErr == nil {
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == http.StatusOK {
				var decoded version.Info
				if json.NewDecoder(resp.Body).Decode(&decoded) == nil {
					workerVersion = decoded
				} else {
					workerVersion = gin.H{"error": "Failed to decode worker version"}
				}
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"backend": backend, "worker": workerVersion})
}
