package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/errs"
	"github.com/router-for-me/gatewayconsole/internal/security"
	log "github.com/sirupsen/logrus"
)

// writeError maps err to its status and writes {"error": message}.
func writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"request_id": c.GetString("requestID"),
			"path":       c.FullPath(),
			"key":        security.Fingerprint(CredentialFrom(c)),
		}).Error("console request failed")
	}
	c.JSON(status, gin.H{"error": errs.Message(err)})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
