package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

// SubjectPrefix starts every report email subject.
const SubjectPrefix = "Outlet Status Report - "

// DefaultSMTPTimeout bounds one SMTP conversation when the caller's context
// has no earlier deadline.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPConfig holds the mail transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// EmailSink mails an HTML summary with the documents attached. STARTTLS is
// used whenever the server offers it.
type EmailSink struct {
	cfg SMTPConfig
}

// NewEmailSink creates an email sink.
func NewEmailSink(cfg SMTPConfig) *EmailSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return &EmailSink{cfg: cfg}
}

// Name implements Sink.
func (s *EmailSink) Name() string { return "email" }

// Send implements Sink. The whole conversation, greeting included, is bound
// to ctx.
func (s *EmailSink) Send(ctx context.Context, r *Report, docs []Document) error {
	if len(s.cfg.To) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.Message(r, docs)
	if err != nil {
		return fmt.Errorf("email: build message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("email: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("email: send via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *EmailSink) clientOptions(ctx context.Context) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithDialContextFunc(deadlineDialer(ctx)),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// deadlineDialer returns a dialer whose connections expire with sendCtx, so a
// server that stalls after accepting cannot hold the sink past its deadline.
func deadlineDialer(sendCtx context.Context) mail.DialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := sendCtx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
		}
		context.AfterFunc(sendCtx, func() {
			_ = conn.SetDeadline(time.Now())
		})
		return conn, nil
	}
}

func (s *EmailSink) from() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.User
}

// Subject returns the email subject for r.
func Subject(r *Report) string {
	return SubjectPrefix + r.GeneratedAt.Format("2006-01-02 15:04")
}

// Message builds the report email: the HTML summary followed by one
// attachment per document.
func (s *EmailSink) Message(r *Report, docs []Document) (*mail.Msg, error) {
	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, r); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(s.from()); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(s.cfg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(Subject(r))
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, body.String())
	for _, d := range docs {
		m.AttachReadSeeker(d.Name, bytes.NewReader(d.Data), mail.WithFileContentType(mail.ContentType(d.ContentType)))
	}
	return m, nil
}

var emailFuncs = template.FuncMap{
	"seconds": func(r *Report) string {
		return strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 2, 64)
	},
	"stamp": func(r *Report) string {
		return r.GeneratedAt.Format(TimeLayout)
	},
}

var emailTemplate = template.Must(template.New("email").Funcs(emailFuncs).Parse(`<html>
<body>
<h2>Outlet Status Report</h2>
<p>Report generated on {{stamp .}}</p>
<h3>Summary:</h3>
<ul>
<li>Total outlets checked: {{.TotalChecked}} of {{.TotalOutlets}}</li>
{{- range .SortedHistogram}}
<li>{{.Status}}: {{.Count}} outlets</li>
{{- end}}
</ul>
{{- if .Partial}}
<p><b>The run reached its deadline before every outlet was checked. Not checked: {{len .Unresolved}}.</b></p>
{{- end}}
{{- with .NeedsAttention}}
<h3>Outlets Requiring Attention:</h3>
<table border="1" cellpadding="5" style="border-collapse: collapse;">
<tr><th>Outlet Name</th><th>Status</th><th>Username</th></tr>
{{- range .}}
<tr><td>{{.OutletID}}</td><td>{{.Status}}</td><td>{{.Username}}</td></tr>
{{- end}}
</table>
{{- end}}
<p>The complete report is attached.</p>
<p><i>This is an automated message from outletwatch.<br>
Total runtime: {{seconds .}} seconds</i></p>
</body>
</html>
`))
