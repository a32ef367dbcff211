package email

import (
	"bytes"
	"html/template"
)

var carePlanTmpl = template.Must(template.New("care_plan").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8"/>
  <style>
    body { font-family: system-ui, -apple-system, Segoe UI, Roboto, Arial; background: #f5f7fb; margin: 0; padding: 24px; }
    .card { max-width: 640px; margin: 0 auto; background: #ffffff; border-radius: 16px; padding: 24px; }
    h1 { color: #1f2937; font-size: 22px; }
    .content { color: #374151; line-height: 1.6; white-space: pre-wrap; font-family: sans-serif; }
    .btn { display: inline-block; background: #4F46E5; color: #ffffff; padding: 12px 20px; border-radius: 12px; text-decoration: none; margin-top: 16px; }
    .footer { color: #9ca3af; font-size: 12px; margin-top: 24px; text-align: center; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Your Personalized Care Plan is Ready</h1>
    <div class="content">{{.Content}}</div>
    <a href="{{.Link}}" class="btn">View Full Blueprint</a>
    <div class="footer">You received this because you completed a coaching session.</div>
  </div>
</body>
</html>`))

type carePlanData struct {
	Content string
	Link    string
}

// CarePlanBody renders the delivery email for a finished care plan.
func CarePlanBody(content, link string) (string, error) {
	var buf bytes.Buffer
	if err := carePlanTmpl.Execute(&buf, carePlanData{Content: content, Link: link}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
