package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	zoomsvc "github.com/ONLYOFFICE/onlyoffice-docspace-zoom"
)

func defaulting(in, dft string) string {
	if in == "" {
		return dft
	}
	return in
}

var (
	flagBindAddr = flag.String("port", defaulting(os.Getenv("ZOOMSVC_BINDADDR"), ":8008"), "Bind address")
	flagPortal   = flag.String("portal", os.Getenv("ZOOMSVC_PORTAL_URL"), "Base URL of the DocSpace portal")
	flagPostgres = flag.String("db", defaulting(os.Getenv("ZOOMSVC_DB"), "user=postgres dbname=zoomsvc sslmode=disable"), "Postgres DB connection string (see lib/pq docs)")
	flagSecret   = flag.String("secret", os.Getenv("ZOOMSVC_SECRET"), "Secret which verifies connection tokens and encrypts stored portal tokens")
	flagTTL      = flag.Duration("session-ttl", 20*time.Minute, "How long an idle collaboration session lives before it expires")
	flagPprof    = flag.String("pprof", os.Getenv("ZOOMSVC_PPROF"), "Bind address for the pprof listener, disabled if empty. E.g :6060")
	flagDebug    = flag.Bool("debug", os.Getenv("ZOOMSVC_DEBUG") == "1", "Enable trace level logging")
)

func main() {
	fmt.Printf("zoomsvc (%s)\n", zoomsvc.Version)
	flag.Parse()
	if *flagPortal == "" || *flagSecret == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *flagPprof != "" {
		go func() {
			fmt.Printf("pprof listening on %s\n", *flagPprof)
			if err := http.ListenAndServe(*flagPprof, nil); err != nil {
				panic(err)
			}
		}()
	}
	zoomsvc.RunZoomService(zoomsvc.Config{
		BindAddr:         *flagBindAddr,
		PortalURL:        *flagPortal,
		PostgresURI:      *flagPostgres,
		Secret:           *flagSecret,
		SessionTTL:       *flagTTL,
		SentryDSN:        os.Getenv("ZOOMSVC_SENTRY_DSN"),
		OTLPURL:          os.Getenv("ZOOMSVC_OTLP_URL"),
		OTLPUsername:     os.Getenv("ZOOMSVC_OTLP_USERNAME"),
		OTLPPassword:     os.Getenv("ZOOMSVC_OTLP_PASSWORD"),
		EnablePrometheus: os.Getenv("ZOOMSVC_PROM_DISABLED") != "1",
		Debug:            *flagDebug,
	})
}
