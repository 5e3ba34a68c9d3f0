package zoomsvc

import (
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/archive"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/directory"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/docspace"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/hub"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/internal"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/pubsub"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

var Version string

type Config struct {
	BindAddr    string
	PortalURL   string
	PostgresURI string
	// Secret signs connection contexts and encrypts stored portal tokens
	Secret     string
	SessionTTL time.Duration

	SentryDSN        string
	OTLPURL          string
	OTLPUsername     string
	OTLPPassword     string
	EnablePrometheus bool
	Debug            bool
}

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// RunZoomService is the main entry point to the service
func RunZoomService(cfg Config) {
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: Version,
		}); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise sentry")
		}
	}
	if cfg.OTLPURL != "" {
		if err := internal.ConfigureOTLP(cfg.OTLPURL, cfg.OTLPUsername, cfg.OTLPPassword, Version); err != nil {
			logger.Fatal().Err(err).Msg("failed to configure OTLP")
		}
	}

	db := sqlx.MustConnect("postgres", cfg.PostgresURI)
	accounts := directory.NewAccountsTable(db, cfg.Secret)
	store := session.NewMemoryStore(cfg.SessionTTL)
	portal := &docspace.HTTPClient{
		Client:    &http.Client{Timeout: 30 * time.Second},
		PortalURL: cfg.PortalURL,
	}

	ps := pubsub.NewPubSub(50)
	var notifier pubsub.Notifier = ps
	if cfg.EnablePrometheus {
		notifier = pubsub.NewPromNotifier(ps, "hub")
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "zoomsvc",
			Subsystem: "session",
			Name:      "num_active_sessions",
			Help:      "Number of live collaboration sessions",
		}, func() float64 {
			return float64(store.Len())
		}))
	}

	worker := archive.NewWorker(portal, 64)
	go worker.Run()

	collabHub := hub.NewHub(store, portal, accounts, worker, notifier)
	connMap := hub.NewConnMap(cfg.EnablePrometheus, 6*time.Hour)
	sub := pubsub.NewCollabSub(ps, connMap)
	go func() {
		if err := sub.Listen(); err != nil {
			logger.Error().Err(err).Msg("collab subscription closed")
		}
	}()

	// HTTP path routing
	r := mux.NewRouter()
	r.Handle("/hubs/zoom", hub.NewHandler(collabHub, connMap, hub.NewAuthenticator(cfg.Secret)))
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{}`))
	})
	if cfg.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}

	srv := &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			hlog.AccessHandler(func(req *http.Request, status, size int, duration time.Duration) {
				if req.URL.Path == "/health" {
					return
				}
				hlog.FromRequest(req).Info().
					Str("method", req.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", req.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: otelhttp.NewHandler(allowCORS(r), "zoomsvc"),
	}

	// Block forever
	logger.Info().Msgf("listening on %s", cfg.BindAddr)
	if err := http.ListenAndServe(cfg.BindAddr, srv); err != nil {
		sentry.CaptureException(err)
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}
