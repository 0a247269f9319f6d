package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "panel@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "panel@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "panel@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *capturedMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "2525", From: "panel@example.com", FromName: "Panel Delphi", BaseURL: "https://panel.example.com/"})
	captured := &capturedMail{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr, captured.from, captured.to, captured.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, captured
}

func TestSendSurveyInvitation(t *testing.T) {
	svc, captured := newCapturingService(t)

	if err := svc.SendSurveyInvitation("ana@example.com", "Ana Perez", "Software Educativo", 42); err != nil {
		t.Fatalf("SendSurveyInvitation failed: %v", err)
	}
	if captured.addr != "smtp.example.com:2525" {
		t.Fatalf("unexpected server %q", captured.addr)
	}
	if len(captured.to) != 1 || captured.to[0] != "ana@example.com" {
		t.Fatalf("unexpected recipients %v", captured.to)
	}
	for _, want := range []string{
		"From: Panel Delphi <panel@example.com>",
		"Subject: Encuesta de competencia: Software Educativo",
		"https://panel.example.com/encuestas/42",
		"Ana Perez",
	} {
		if !strings.Contains(captured.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendPanelSelectionMentionsModerator(t *testing.T) {
	svc, captured := newCapturingService(t)

	if err := svc.SendPanelSelection("beto@example.com", "Beto", "Software Educativo", 3, true); err != nil {
		t.Fatalf("SendPanelSelection failed: %v", err)
	}
	if !strings.Contains(captured.msg, "moderador") {
		t.Error("moderator notification should mention the role")
	}
	if !strings.Contains(captured.msg, "https://panel.example.com/proyectos/3/chat") {
		t.Error("notification should link to the chat")
	}
}

func TestSendWithoutConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendSurveyInvitation("ana@example.com", "Ana", "P", 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRenderTemplateEscapesHTML(t *testing.T) {
	html, err := renderTemplate(surveyInvitationTemplate, SurveyInvitationData{ExpertName: "<script>", ProjectName: "P", SurveyURL: "https://x"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("expert name should be escaped")
	}
}
