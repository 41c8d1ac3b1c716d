package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perkpoint/missions/src/api/errs"
)

// respondErr maps the engine error taxonomy to HTTP statuses. Clients rely on
// 409 to distinguish "can never do this again" from a malformed request.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindForbidden:
		status = http.StatusForbidden
	case errs.KindAlreadyCompleted:
		status = http.StatusConflict
	case errs.KindExternal:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"err": err.Error()})
}
