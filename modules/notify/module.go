// Package notify drains the outbound_mail table. Other modules enqueue
// rows directly; this module owns delivery, retry backoff, and rate
// limiting.
package notify

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/smtp"
	"os"
	"testing"
	"time"

	"github.com/xalatechnologies/roomery/engine"
)

const migration = `
CREATE TABLE IF NOT EXISTS outbound_mail (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    send_at INTEGER DEFAULT (strftime('%s', 'now')),
    recipient TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE INDEX IF NOT EXISTS outbound_mail_send_at_idx ON outbound_mail (send_at);
`

const maxRPS = 1

type Sender func(ctx context.Context, to, subj string, msg []byte) error

// SMTPConfig configures the real mail sender. Nil means dev mode: mail is
// printed to stdout instead of sent.
type SMTPConfig struct {
	Addr string
	From string
	Auth smtp.Auth
}

type Module struct {
	db     *sql.DB
	sender Sender
}

func New(db *sql.DB, conf *SMTPConfig) *Module {
	engine.MustMigrate(db, migration)

	m := &Module{db: db}
	if conf == nil {
		m.sender = newDevSender()
	} else {
		m.sender = newSMTPSender(conf)
	}
	return m
}

func (m *Module) AttachWorkers(mgr *engine.ProcMgr) {
	mgr.Add(engine.Poll(time.Second, engine.PollWorkqueue(engine.WithRateLimiting[*message](m, maxRPS))))
}

func (m *Module) GetItem(ctx context.Context) (*message, error) {
	item := &message{}
	err := m.db.QueryRowContext(ctx,
		"SELECT id, recipient, subject, body, created FROM outbound_mail WHERE unixepoch() >= send_at AND unixepoch() - created < 3600 ORDER BY send_at ASC LIMIT 1;").Scan(
		&item.ID, &item.To, &item.Subject, &item.Body, &item.Created)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (m *Module) ProcessItem(ctx context.Context, item *message) error {
	return m.sender(ctx, item.To, item.Subject, []byte(item.Body))
}

func (m *Module) UpdateItem(ctx context.Context, item *message, success bool) (err error) {
	if success {
		_, err = m.db.Exec("DELETE FROM outbound_mail WHERE id = $1;", item.ID)
	} else {
		_, err = m.db.Exec("UPDATE outbound_mail SET send_at = unixepoch() + ((send_at - created) * 2) WHERE id = $1;", item.ID)
	}
	return err
}

type message struct {
	ID      int64
	To      string
	Subject string
	Body    string
	Created int64
}

func (m *message) String() string { return fmt.Sprintf("id=%d", m.ID) }

func newSMTPSender(conf *SMTPConfig) Sender {
	return func(ctx context.Context, to, subj string, msg []byte) error {
		buf := &bytes.Buffer{}
		fmt.Fprintf(buf, "To: %s\r\n", to)
		fmt.Fprintf(buf, "Subject: %s\r\n\r\n", subj)
		buf.Write(msg)
		buf.WriteString("\r\n")
		return smtp.SendMail(conf.Addr, conf.Auth, conf.From, []string{to}, buf.Bytes())
	}
}

// newDevSender just "sends" emails by logging them to stdout.
func newDevSender() Sender {
	return func(ctx context.Context, to, subj string, msg []byte) error {
		fmt.Fprintf(os.Stdout, "--- START EMAIL TO %s WITH SUBJECT %q ---\n%s\n--- END EMAIL ---\n", to, subj, msg)
		return nil
	}
}

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}
