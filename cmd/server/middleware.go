package main

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// withMiddleware wraps the router with CORS, panic recovery and access
// logging, generalized from cmd/deflix-stremio/middleware.go's
// createCorsMiddleware/recoveryMiddleware/createLoggingMiddleware onto
// zap instead of logrus.
func withMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	headersOk := handlers.AllowedHeaders([]string{
		"Accept",
		"Accept-Language",
		"Content-Type",
		"Origin",
		"Accept-Encoding",
		"Content-Language",
		"X-Requested-With",
	})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET"})

	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(next)
	cors := handlers.CORS(originsOk, headersOk, methodsOk)(recovered)
	return loggingMiddleware(cors, logger)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", clientIP(r)),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// clientIP returns the left-most X-Forwarded-For entry when present,
// otherwise RemoteAddr; used for per-IP rate governance and status logs.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}
