// Roomery is a multi-tenant facility booking server. It handles requests
// from the internet and stores persistent state in sqlite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/audit"
	"github.com/xalatechnologies/roomery/modules/auth"
	"github.com/xalatechnologies/roomery/modules/billing"
	"github.com/xalatechnologies/roomery/modules/bookings"
	"github.com/xalatechnologies/roomery/modules/checkin"
	"github.com/xalatechnologies/roomery/modules/ical"
	"github.com/xalatechnologies/roomery/modules/notify"
	"github.com/xalatechnologies/roomery/modules/pruning"
	"github.com/xalatechnologies/roomery/modules/resources"
	"github.com/xalatechnologies/roomery/modules/schedule"
	"github.com/xalatechnologies/roomery/modules/tenants"
)

type Config struct {
	HttpAddr string `envDefault:":8080"`
	DBPath   string `envDefault:"roomery.sqlite3"`

	SmtpAddr     string
	SmtpFrom     string
	SmtpUser     string
	SmtpPassword string
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	conf, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "ROOMERY_", UseFieldNameByDefault: true})
	if err != nil {
		panic(err)
	}

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		err := engine.CheckHealthProbe("http://localhost:8080/healthz") // assume server is running on the default port
		if err != nil {
			panic(err)
		}
		return
	}

	app, err := newApp(conf, getSelfURL(conf))
	if err != nil {
		panic(err)
	}

	app.Run(context.TODO())
}

func newApp(conf Config, self *url.URL) (*engine.App, error) {
	database, err := engine.OpenDB(conf.DBPath)
	if err != nil {
		return nil, err
	}

	router := engine.NewRouter()
	router.HandleFunc("GET /healthz", engine.ServeHealthProbe(database))

	var smtpConf *notify.SMTPConfig
	if conf.SmtpAddr != "" {
		host, _, _ := net.SplitHostPort(conf.SmtpAddr)
		smtpConf = &notify.SMTPConfig{
			Addr: conf.SmtpAddr,
			From: conf.SmtpFrom,
			Auth: smtp.PlainAuth("", conf.SmtpUser, conf.SmtpPassword, host),
		}
	}

	issuer := engine.NewTokenIssuer("auth.pem")
	auditLog := engine.NewAuditLogger(database)

	a := engine.NewApp(conf.HttpAddr, router)

	// tenants before auth: the users table must exist before the login
	// tables reference it.
	a.Add(tenants.New(database))

	authModule := auth.New(database, issuer)
	a.Add(authModule)
	a.Router.Authenticator = authModule // IMPORTANT

	a.Add(resources.New(database))

	bookingsModule := bookings.New(database, auditLog)
	a.Add(bookingsModule)
	a.Add(schedule.New(database, bookingsModule))

	a.Add(notify.New(database, smtpConf))
	a.Add(billing.New(database, self, auditLog))
	a.Add(checkin.New(database, self, issuer, auditLog))
	a.Add(ical.New(database, self))
	a.Add(audit.New(database))
	a.Add(pruning.New(database))

	return a, nil
}

func getSelfURL(conf Config) *url.URL {
	str := os.Getenv("SELF_URL")
	if str == "" {
		conn, err := net.Dial("udp4", "8.8.8.8:53")
		if err != nil {
			panic(err)
		}
		conn.Close()

		_, port, _ := net.SplitHostPort(conf.HttpAddr)
		str = fmt.Sprintf("http://%s:%s", conn.LocalAddr().(*net.UDPAddr).IP, port)
		slog.Info("discovered self URL", "url", str)
	}

	self, err := url.Parse(str)
	if err != nil {
		panic(err)
	}
	return self
}
