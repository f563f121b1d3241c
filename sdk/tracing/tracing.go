package tracing

import (
	"fmt"
	"io"

	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"go.elastic.co/apm/module/apmot"
)

var log = logging.Logger("tracing")

// Enabled is true once a global tracer other than the noop tracer is set.
var Enabled bool

var closer io.Closer

// StartElastic installs the elastic APM tracer. It is configured from the
// ELASTIC_APM_* environment variables.
func StartElastic() {
	Enabled = true
	opentracing.SetGlobalTracer(apmot.New())
}

// StartJaeger installs a jaeger tracer configured from the JAEGER_*
// environment variables, sampling every span.
func StartJaeger(serviceName string) error {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		// parsing errors might happen here, such as when we get a string where we expect a number
		return fmt.Errorf("could not parse jaeger env vars: %w", err)
	}

	cfg.ServiceName = serviceName
	cfg.Sampler.Type = jaeger.SamplerTypeConst
	cfg.Sampler.Param = 1

	tracer, c, err := cfg.NewTracer()
	if err != nil {
		return fmt.Errorf("could not initialize jaeger tracer: %w", err)
	}

	Enabled = true
	closer = c
	opentracing.SetGlobalTracer(tracer)
	log.Debugf("jaeger tracing started for %s", serviceName)
	return nil
}

// Stop flushes the jaeger tracer if one was started and restores the noop
// tracer.
func Stop() error {
	Enabled = false
	opentracing.SetGlobalTracer(opentracing.NoopTracer{})
	if closer == nil {
		return nil
	}
	c := closer
	closer = nil
	return c.Close()
}
