package edge

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/mamdani-tracker/tracker/pkg/logging"
)

// NewProxyOrigin forwards pass-through traffic to a separately hosted
// frontend instead of the embedded build
func NewProxyOrigin(target string, logger *logging.Logger) (http.Handler, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin URL %q", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("Origin request failed", map[string]interface{}{
			"origin": u.Host,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		http.Error(w, "Bad gateway", http.StatusBadGateway)
	}
	return proxy, nil
}
