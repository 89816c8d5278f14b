package mainboilerplate

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/metrics"
)

// DiagnosticsConfig configures pull-based application metrics and debugging.
type DiagnosticsConfig struct {
	Port uint16 `long:"port" env:"PORT" default:"0" description:"Port serving /debug/metrics, /debug/ready and /debug/pprof. Zero disables diagnostics"`
}

// InitDiagnosticsAndRecover registers pickle metric collectors and, if a Port
// is configured, serves metrics and debugging services of the default
// HTTP mux. It returns a closure which should be deferred by main, which logs
// a recovered panic before re-raising it.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	prometheus.MustRegister(metrics.PickleCollectors()...)

	if cfg.Port != 0 {
		// Serve a liveness check at /debug/ready.
		http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		// Serve Prometheus metrics at /debug/metrics.
		http.Handle("/debug/metrics", promhttp.Handler())

		var ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		Must(err, "failed to bind diagnostics port", "port", cfg.Port)

		go func() {
			if err := http.Serve(ln, nil); err != nil {
				log.WithField("err", err).Warn("diagnostics server stopped")
			}
		}()
		log.WithField("addr", ln.Addr().String()).Info("serving diagnostics")
	}

	return func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("fatal panic")
			panic(r)
		}
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
