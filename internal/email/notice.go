package email

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// CertifiedNotice is the data of the "certificate issued" message.
type CertifiedNotice struct {
	FullName    string
	ServiceName string
	ExamDate    string
	Total       int
	Hash        string
	VerifyURL   string
}

var certifiedTmpl = template.Must(template.New("certified").Parse(`Dear {{.FullName}},

Your certificate for {{.ServiceName}} ({{.ExamDate}}) has been issued.
Total score: {{.Total}}

Anyone can verify it with the anchor hash
  {{.Hash}}
{{- if .VerifyURL}}
or at {{.VerifyURL}}{{end}}
`))

// SendCertified renders and sends the certification notice to to.
func SendCertified(ctx context.Context, s Sender, to string, n CertifiedNotice) error {
	var buf bytes.Buffer
	if err := certifiedTmpl.Execute(&buf, n); err != nil {
		return fmt.Errorf("render certified notice: %w", err)
	}
	subject := fmt.Sprintf("Your %s certificate", n.ServiceName)
	return s.Send(ctx, to, subject, buf.String())
}
