// Timezone verification handlers.
//
// The pipeline sends unresolved users a one-time signed link. Opening it
// serves a small HTML page that reads the browser's IANA zone via
// Intl.DateTimeFormat and posts it back together with the token. The POST
// side validates the token, pins the zone as a verified belief, and adds it
// to the chat's active conversion targets.
package handlers

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teamops/tzbot/internal/belief"
	"github.com/teamops/tzbot/internal/verify"
)

// VerifyRequest is the JSON payload posted by the verification page.
type VerifyRequest struct {
	// Token is the signed verification token from the link.
	Token string `json:"token" binding:"required"`
	// Timezone is the browser-detected IANA zone id.
	Timezone string `json:"timezone" binding:"required" example:"Europe/Berlin"`
}

// VerifyResponse confirms what was stored.
type VerifyResponse struct {
	Status   string `json:"status" example:"verified"`
	Timezone string `json:"timezone" example:"Europe/Berlin"`
}

// verifyPage is served on GET /verify. It auto-detects the zone, shows it,
// and submits to the confirmation endpoint. Tokens are injected through
// html/template so they cannot break out of the attribute.
var verifyPage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Confirm your timezone</title>
<style>
body{font-family:sans-serif;max-width:28rem;margin:4rem auto;padding:0 1rem}
button{padding:.5rem 1.5rem;font-size:1rem;cursor:pointer}
#zone{font-weight:bold}
#done,#err{display:none}
</style>
</head>
<body>
<h1>Confirm your timezone</h1>
<p id="ask">Your browser reports <span id="zone"></span>. Confirm to let the bot convert times for you.</p>
<button id="go">Confirm</button>
<p id="done">Done. You can close this page and go back to the chat.</p>
<p id="err">Something went wrong. Ask the bot for a new link.</p>
<script>
(function(){
  var tz = Intl.DateTimeFormat().resolvedOptions().timeZone || "";
  document.getElementById("zone").textContent = tz || "an unknown zone";
  document.getElementById("go").addEventListener("click", function(){
    fetch("/api/v1/verify", {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify({token: {{.Token}}, timezone: tz})
    }).then(function(r){
      document.getElementById("ask").style.display = "none";
      document.getElementById("go").style.display = "none";
      document.getElementById(r.ok ? "done" : "err").style.display = "block";
    }).catch(function(){
      document.getElementById("err").style.display = "block";
    });
  });
})();
</script>
</body>
</html>
`))

// VerifyPage handles GET /verify?token=...
//
// The token is checked up front so dead links get an error page instead of a
// form that can only fail. The page itself does the zone detection.
func (h *Handlers) VerifyPage(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing token")
		return
	}
	if err := h.verifier.Check(token); err != nil {
		status, code, msg := verifyError(err)
		fail(c, status, code, msg)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	_ = verifyPage.Execute(c.Writer, gin.H{"Token": token})
}

// ConfirmVerification handles POST /api/v1/verify.
func (h *Handlers) ConfirmVerification(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token and timezone are required")
		return
	}

	tz, err := h.verifier.Confirm(c.Request.Context(), req.Token, req.Timezone)
	if err != nil {
		status, code, msg := verifyError(err)
		fail(c, status, code, msg)
		return
	}

	ok(c, http.StatusOK, VerifyResponse{Status: "verified", Timezone: tz})
}

// verifyError maps verification failures to HTTP responses.
func verifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, verify.ErrExpired):
		return http.StatusUnauthorized, ErrCodeTokenExpired, "verification link expired, ask the bot for a new one"
	case errors.Is(err, verify.ErrInvalid):
		return http.StatusUnauthorized, ErrCodeTokenInvalid, "verification link is not valid"
	case errors.Is(err, belief.ErrInvalidZone):
		return http.StatusBadRequest, ErrCodeInvalidTimezone, "unknown timezone"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "verification failed"
	}
}
