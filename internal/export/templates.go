package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.Format("02/01/2006 15:04")
	},
	"coefficient": func(k float64) string {
		return fmt.Sprintf("%.2f", k)
	},
	"average": func(avg *float64) string {
		if avg == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *avg)
	},
	"stateLabel": stateLabel,
}).Parse(reportHTML))

func stateLabel(state string) string {
	switch state {
	case "pending":
		return "Pendiente"
	case "selected":
		return "Seleccionado"
	case "rejected":
		return "Rechazado"
	case "archived":
		return "Archivado"
	default:
		return state
	}
}

// RenderReportHTML renders the panel report as a standalone HTML page.
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html lang="es">
<head>
  <meta charset="UTF-8">
  <title>Informe del panel: {{.ProjectName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { border: 1px solid #ccc; padding: 0.4rem; text-align: left; }
    th { background: #f0f0f0; }
    .moderator { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">
    {{if .Client}}Cliente: {{.Client}} | {{end}}{{if .Category}}Categoría: {{.Category}} | {{end}}Generado: {{formatDate .GeneratedAt}}
    {{if .ClosedAt}}<br>Tormenta de ideas cerrada: {{formatDate .ClosedAt}}{{end}}
  </div>

  <h2>Panel de expertos</h2>
  {{if .Finalized}}
  <p>Moderador: {{if .Moderator}}{{.Moderator}}{{else}}sin asignar{{end}}</p>
  <table>
    <tr><th>Experto</th><th>Coeficiente K</th><th>Observaciones</th></tr>
    {{range .Panel}}
    <tr{{if .Moderator}} class="moderator"{{end}}><td>{{.Name}}</td><td>{{coefficient .Coefficient}}</td><td>{{.Comments}}</td></tr>
    {{end}}
  </table>
  {{else}}
  <p>El proceso de selección aún no ha finalizado.</p>
  {{end}}

  <h2>Ideas</h2>
  {{if .Items}}
  <table>
    <tr><th>Idea</th><th>Autor</th><th>Estado</th><th>A favor</th><th>En contra</th><th>Evaluación media</th></tr>
    {{range .Items}}
    <tr>
      <td><strong>{{.Title}}</strong>{{if .Description}}<br>{{.Description}}{{end}}</td>
      <td>{{.Author}}</td>
      <td>{{stateLabel .State}}</td>
      <td>{{.AgreeVotes}}</td>
      <td>{{.DisagreeVotes}}</td>
      <td>{{average .Average}}</td>
    </tr>
    {{end}}
  </table>
  {{else}}
  <p>No hay ideas registradas.</p>
  {{end}}
</body>
</html>`
