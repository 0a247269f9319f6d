// Package email sends panel notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// ErrNotConfigured is returned by the send methods when SMTP settings are missing.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL prefixes links to the client application.
	BaseURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	return s.send(s.server, s.auth, s.config.From, to, s.buildMessage(to, subject, textBody, htmlBody))
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-delphi-panel"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type SurveyInvitationData struct {
	ExpertName  string
	ProjectName string
	SurveyURL   string
}

type PanelSelectionData struct {
	ExpertName  string
	ProjectName string
	Moderator   bool
	ChatURL     string
}

// SendSurveyInvitation tells an expert a competence survey is waiting.
func (s *Service) SendSurveyInvitation(to, expertName, projectName string, surveyID int64) error {
	data := SurveyInvitationData{
		ExpertName:  expertName,
		ProjectName: projectName,
		SurveyURL:   fmt.Sprintf("%s/encuestas/%d", strings.TrimRight(s.config.BaseURL, "/"), surveyID),
	}
	html, err := renderTemplate(surveyInvitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render survey invitation: %w", err)
	}
	text := fmt.Sprintf("Hola %s, tienes una encuesta de competencia pendiente para el proyecto %s: %s",
		data.ExpertName, data.ProjectName, data.SurveyURL)
	return s.SendHTMLEmail([]string{to}, "Encuesta de competencia: "+projectName, text, html)
}

// SendPanelSelection tells an expert they were selected for the project's panel.
func (s *Service) SendPanelSelection(to, expertName, projectName string, projectID int64, moderator bool) error {
	data := PanelSelectionData{
		ExpertName:  expertName,
		ProjectName: projectName,
		Moderator:   moderator,
		ChatURL:     fmt.Sprintf("%s/proyectos/%d/chat", strings.TrimRight(s.config.BaseURL, "/"), projectID),
	}
	html, err := renderTemplate(panelSelectionTemplate, data)
	if err != nil {
		return fmt.Errorf("render panel selection: %w", err)
	}
	role := "experto del panel"
	if moderator {
		role = "moderador"
	}
	text := fmt.Sprintf("Hola %s, has sido seleccionado como %s del proyecto %s: %s",
		data.ExpertName, role, data.ProjectName, data.ChatURL)
	return s.SendHTMLEmail([]string{to}, "Selección de expertos: "+projectName, text, html)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `<style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #0066cc; }
    </style>`

const surveyInvitationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Encuesta de competencia</title>
    ` + emailStyle + `
</head>
<body>
    <h2>Hola, {{.ExpertName}}</h2>
    <p>Has sido invitado a evaluar tu competencia para el proyecto <strong>{{.ProjectName}}</strong>.</p>
    <p><a href="{{.SurveyURL}}" class="button">Responder encuesta</a></p>
    <p class="link">{{.SurveyURL}}</p>
</body>
</html>`

const panelSelectionTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Selección de expertos</title>
    ` + emailStyle + `
</head>
<body>
    <h2>Hola, {{.ExpertName}}</h2>
    {{if .Moderator}}
    <p>Has sido designado moderador de la tormenta de ideas del proyecto <strong>{{.ProjectName}}</strong>.</p>
    {{else}}
    <p>Has sido seleccionado para el panel de expertos del proyecto <strong>{{.ProjectName}}</strong>.</p>
    {{end}}
    <p><a href="{{.ChatURL}}" class="button">Ir al chat</a></p>
</body>
</html>`
