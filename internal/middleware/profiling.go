package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	// Enabled controls whether profiling endpoints are exposed.
	Enabled bool
	// Environment is checked so profiling never starts in production.
	Environment string
	// Secret, when set, is required in X-Internal-Auth.
	Secret string
}

// Profiling exposes pprof endpoints under /debug/pprof/ in non-production
// environments. The endpoints leak runtime internals; they are refused in
// production regardless of Enabled.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("profiling cannot be enabled in production environment",
				"environment", config.Environment)
			return next
		}

		slog.Warn("profiling endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*")

		var profiles http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				pprof.Index(w, r)
			}
		})
		if config.Secret != "" {
			profiles = InternalAuth(config.Secret)(profiles)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				profiles.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
