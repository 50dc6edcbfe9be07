package handler

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/pkg/response"
)

type documentOpener interface {
	Open(token string) (*os.File, string, error)
}

// DocumentHandler streams stored documents behind signed tokens.
type DocumentHandler struct {
	documents documentOpener
}

// NewDocumentHandler constructs DocumentHandler.
func NewDocumentHandler(documents documentOpener) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Download godoc
// @Summary Download a document by signed token
// @Tags Documents
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	file, filename, err := h.documents.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	http.ServeContent(c.Writer, c.Request, filename, info.ModTime(), file)
}
