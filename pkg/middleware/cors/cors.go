package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Options configures the CORS middleware.
type Options struct {
	// AllowedOrigins lists exact origins. Empty allows any origin without
	// credentials.
	AllowedOrigins []string
	// ExposeHeaders are readable by browser scripts, e.g. the export
	// Content-Disposition filename.
	ExposeHeaders []string
	MaxAge        time.Duration
}

var (
	allowHeaders  = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	defaultExpose = []string{"Content-Disposition", "X-Request-ID"}
)

// New returns a CORS middleware for the browser frontend.
func New(opts Options) gin.HandlerFunc {
	allowAll := len(opts.AllowedOrigins) == 0
	originSet := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		originSet[strings.TrimRight(origin, "/")] = struct{}{}
	}
	expose := opts.ExposeHeaders
	if len(expose) == 0 {
		expose = defaultExpose
	}
	exposeHeader := strings.Join(expose, ", ")
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	maxAgeHeader := strconv.Itoa(int(maxAge.Seconds()))

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin := strings.TrimRight(c.GetHeader("Origin"), "/")
		switch {
		case allowAll:
			// Wildcard responses must not carry credentials.
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := originSet[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}
		h.Set("Access-Control-Expose-Headers", exposeHeader)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Max-Age", maxAgeHeader)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
