package server

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/auth"
	"go.uber.org/zap"
)

var blueprintPage = template.Must(template.New("blueprint").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Your Care Plan</title>
  <style>
    body { font-family: Georgia, serif; max-width: 720px; margin: 2rem auto; padding: 0 1rem; color: #2d2d2d; }
    h1 { font-size: 1.6rem; }
    pre { white-space: pre-wrap; font-family: inherit; line-height: 1.6; }
    footer { margin-top: 3rem; font-size: 0.85rem; color: #888; }
  </style>
</head>
<body>
  <h1>Your Care Plan</h1>
  <pre>{{.Content}}</pre>
  <footer>Generated {{.CreatedAt.Format "Jan 2, 2006"}}</footer>
</body>
</html>
`))

// UploadSession accepts a finished call transcript and queues care-plan
// generation. The response returns before the plan exists.
func (s *Server) UploadSession(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	transcript := c.PostForm("transcript")
	if transcript == "" {
		var body struct {
			Transcript string `json:"transcript"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			transcript = body.Transcript
		}
	}

	hostURL := "https://" + c.Request.Host
	if c.Request.TLS == nil {
		hostURL = "http://" + c.Request.Host
	}

	result, err := s.careplanSvc.Enqueue(c.Request.Context(), email, transcript, hostURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) ViewBlueprint(c *gin.Context) {
	bp, err := s.careplanSvc.GetBlueprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := blueprintPage.Execute(c.Writer, bp); err != nil {
		s.log.Error("render blueprint page", zap.Error(err))
	}
}
