package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"

	"github.com/cleanplanet/cleanplanet-web/internal/addresshttp"
	"github.com/cleanplanet/cleanplanet-web/internal/cfg"
	"github.com/cleanplanet/cleanplanet-web/internal/content"
	"github.com/cleanplanet/cleanplanet-web/internal/cryptoutil"
	"github.com/cleanplanet/cleanplanet-web/internal/dadata"
	"github.com/cleanplanet/cleanplanet-web/internal/espo"
	"github.com/cleanplanet/cleanplanet-web/internal/health"
	"github.com/cleanplanet/cleanplanet-web/internal/httpserver"
	"github.com/cleanplanet/cleanplanet-web/internal/leadhttp"
	"github.com/cleanplanet/cleanplanet-web/internal/log"
	"github.com/cleanplanet/cleanplanet-web/internal/metrics"
	"github.com/cleanplanet/cleanplanet-web/internal/opshttp"
	"github.com/cleanplanet/cleanplanet-web/internal/otelx"
	"github.com/cleanplanet/cleanplanet-web/internal/prof"
	"github.com/cleanplanet/cleanplanet-web/internal/ratelimit"
	"github.com/cleanplanet/cleanplanet-web/internal/sitehandler"
	v "github.com/cleanplanet/cleanplanet-web/internal/version"
	"github.com/cleanplanet/cleanplanet-web/internal/webassets"
)

const appName = "cleanplanet-web"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// precedence: cli flag > env var > default
	cfg.FillFromEnv(flag.CommandLine, "CPWEB_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        appName,
		Version:    vi.Version,
		Commit:     vi.Commit,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"espo_base_url", conf.EspoBaseURL,
		"dadata_base_url", conf.DadataBaseURL,
		"lead_rate_limit", conf.LeadRateLimit,
		"lead_rate_window", conf.LeadRateWindow.String(),
		"content_ssm_param", conf.ContentSSMParam,
		"content_s3_bucket", conf.ContentS3Bucket,
		"content_s3_prefix", conf.ContentS3Prefix,
		"content_signing_key_arn", conf.ContentSigningKeyARN,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}

	// Insecure is fine, we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS is only touched for the SSM-held Espo key, the KMS bundle
	// verifier and the content pipeline
	var awsCfg *aws.Config
	needAWS := conf.EspoAPIKeySSM != "" || conf.EnableContentUpdates
	if needAWS {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	espoAPIKey := conf.EspoAPIKey
	if conf.EspoAPIKeySSM != "" {
		key, err := fetchSSMParameter(ctx, *awsCfg, conf.EspoAPIKeySSM)
		if err != nil {
			L.Error(ctx, err, "failed to fetch EspoCRM API key from SSM, falling back to flag value",
				"param", conf.EspoAPIKeySSM,
			)
		} else {
			espoAPIKey = key
		}
	}

	// content: seed from the embedded site, then upgrade to S3 bundles
	fallbackFS := webassets.FallbackFS()
	contentMgr := content.NewManager()

	if seedFS, ok := webassets.SeedSiteFS(); ok {
		contentMgr.Set(content.Snapshot{
			FS: seedFS,
			Meta: content.Meta{
				Source:  content.SourceEmbedded,
				Version: "seed",
			},
		})
		L.Info(ctx, "loaded embedded seed site into content manager")
	} else {
		L.Warn(ctx, "no embedded seed site available, serving maintenance page until a bundle loads")
	}

	if conf.EnableContentUpdates {
		var verifier content.BundleVerifier
		if conf.ContentSigningKeyARN != "" {
			verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(*awsCfg), conf.ContentSigningKeyARN)
		}

		loader, err := content.NewLoader(ctx, content.LoaderOptions{
			Logger:    L,
			SSMParam:  conf.ContentSSMParam,
			S3Bucket:  conf.ContentS3Bucket,
			S3Prefix:  conf.ContentS3Prefix,
			Verifier:  verifier,
			AWSConfig: awsCfg,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create content loader, content updates disabled")
		} else {
			if err := loader.LoadIntoManager(ctx, contentMgr); err != nil {
				L.Error(ctx, err, "failed to load content bundle at startup, keeping seed content")
			} else {
				L.Info(ctx, "loaded content bundle from S3",
					"content_version", contentMgr.ContentVersion(),
					"content_hash", contentMgr.ContentHash(),
				)
			}

			watcher := content.NewWatcher(&content.WatcherOptions{
				Logger:  L,
				Loader:  loader,
				Manager: contentMgr,
				Metrics: m,
				OnSwap: func(hash, version string) {
					m.SetContentBundle(hash)
					m.SetContentSource(string(content.SourceS3))
					m.SetContentLoadedTimestamp(time.Now())
				},
			})
			go watcher.Run(ctx)
		}
	}

	m.SetContentSource(string(contentMgr.Source()))
	m.SetContentBundle(contentMgr.ContentHash())
	if t := contentMgr.LoadedAt(); !t.IsZero() {
		m.SetContentLoadedTimestamp(t)
	}

	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:     L,
		Content:    contentMgr,
		FallbackFS: fallbackFS,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(contentMgr.Probe()),
	)

	// lead submission quota, fixed window per client
	leadLimiter := ratelimit.NewWindow(
		ratelimit.WithWindow(conf.LeadRateLimit, conf.LeadRateWindow),
		ratelimit.WithMaxClients(conf.LeadRateClients),
		ratelimit.WithWindowOnDenied(func(id string) {
			m.IncLeadRateLimitDenied()
		}),
		ratelimit.WithWindowOnFirstDenied(func(id string) {
			L.Warn(ctx, "lead submission rate limit triggered", "client", id)
		}),
		ratelimit.WithWindowOnCapacity(func() {
			m.IncLeadRateLimitCapacity()
			L.Warn(ctx, "lead rate table full, evicting oldest client")
		}),
	)
	go func() {
		t := time.NewTicker(conf.LeadRateWindow)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				leadLimiter.Sweep()
			}
		}
	}()

	// site-wide flood limiter
	ipLimiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	espoClient := espo.New(conf.EspoBaseURL, espoAPIKey, conf.EspoTimeout)
	if !espoClient.Configured() {
		L.Warn(ctx, "EspoCRM is not configured, lead submissions will fail until it is")
	}
	dadataClient := dadata.New(conf.DadataBaseURL, conf.DadataAPIKey, 10*time.Second)

	leadAPI := leadhttp.NewAPI(leadLimiter, espoClient, m)
	addressAPI := addresshttp.NewAPI(dadataClient, m)
	healthAPI := health.NewAPI(health.Fixed(true, ""), readiness)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger: L,
		Port:   conf.HTTPPort,
		APIRoutes: func(r chi.Router) {
			healthAPI.RegisterRoutes(r)
			leadAPI.RegisterRoutes(r)
			addressAPI.RegisterRoutes(r)
		},
		SiteHandler:  siteHandler,
		MetricsMW:    m.Middleware,
		RateLimitMW:  ipLimiter.Middleware,
		ContentInfo:  contentMgr,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener serves metrics, health checks and pprof; the security
	// group restricts inbound to internal monitoring infrastructure
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer drains us before we stop listening
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, sleeping for in-flight requests and health check propagation")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// fetchSSMParameter reads a decrypted string parameter.
func fetchSSMParameter(ctx context.Context, awsCfg aws.Config, name string) (string, error) {
	client := ssm.NewFromConfig(awsCfg)
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when we run under type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
