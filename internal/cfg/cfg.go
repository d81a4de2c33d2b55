package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cleanplanet/cleanplanet-web/internal/log"
)

type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// EspoCRM upstream. Both may legitimately be empty: the lead client then
	// reports the upstream as unavailable instead of the process failing to boot.
	EspoBaseURL     string
	EspoAPIKey      string
	EspoAPIKeySSM   string
	EspoTimeout     time.Duration

	// DaData address suggestions
	DadataBaseURL string
	DadataAPIKey  string

	// Lead submission quota (fixed window per client)
	LeadRateLimit   int
	LeadRateWindow  time.Duration
	LeadRateClients int

	// Static content bundle updates
	EnableContentUpdates bool
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.EspoBaseURL, "espo-base-url", "", "EspoCRM base URL (e.g. https://crm.example.com)")
	fs.StringVar(&c.EspoAPIKey, "espo-api-key", "", "EspoCRM API key (X-Api-Key)")
	fs.StringVar(&c.EspoAPIKeySSM, "espo-api-key-ssm-param", "", "SSM parameter holding the EspoCRM API key (overrides -espo-api-key when readable)")
	fs.DurationVar(&c.EspoTimeout, "espo-timeout", 10*time.Second, "EspoCRM request timeout")

	fs.StringVar(&c.DadataBaseURL, "dadata-base-url", "https://suggestions.dadata.ru", "DaData suggestions base URL")
	fs.StringVar(&c.DadataAPIKey, "dadata-api-key", "", "DaData API token")

	fs.IntVar(&c.LeadRateLimit, "lead-rate-limit", 5, "max lead submissions per client per window")
	fs.DurationVar(&c.LeadRateWindow, "lead-rate-window", time.Minute, "lead submission rate window")
	fs.IntVar(&c.LeadRateClients, "lead-rate-clients", 500, "max tracked clients in the lead rate table")

	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", false, "Enable refreshing site content bundles from S3/SSM")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/cleanplanet-web/content/stable/release/sha256", "ssm parameter name holding the active content bundle hash")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket name to get content bundles from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "apps/cleanplanet-web/content/bundles", "s3 prefix (key) to get content bundles from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for content bundle signature verification (optional)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
// Note: absent Espo/DaData credentials are intentionally not errors here.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP gRPC exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EspoBaseURL != "" {
		if u, err := url.Parse(c.EspoBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ESPO_BASE_URL must be a URL (got %q)", c.EspoBaseURL))
		}
	}
	if c.EspoTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ESPO_TIMEOUT must be positive (got %v)", c.EspoTimeout))
	}

	if c.DadataBaseURL != "" {
		if u, err := url.Parse(c.DadataBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("DADATA_BASE_URL must be a URL (got %q)", c.DadataBaseURL))
		}
	}

	if c.LeadRateLimit < 1 {
		errs = append(errs, fmt.Errorf("LEAD_RATE_LIMIT must be >= 1 (got %d)", c.LeadRateLimit))
	}
	if c.LeadRateWindow <= 0 {
		errs = append(errs, fmt.Errorf("LEAD_RATE_WINDOW must be positive (got %v)", c.LeadRateWindow))
	}
	if c.LeadRateClients < 1 {
		errs = append(errs, fmt.Errorf("LEAD_RATE_CLIENTS must be >= 1 (got %d)", c.LeadRateClients))
	}

	if c.EnableContentUpdates {
		if c.ContentSSMParam == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SSM_PARAM is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Prefix == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_PREFIX is required when ENABLE_CONTENT_UPDATES=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
