package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const importFormField = "file"

// handleImport streams the uploaded export straight into the importer without buffering
// the multipart body.
func (h *httpHandler) handleImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorKindInvalidRequest, "fields": map[string]string{importFormField: "multipart"}})
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeError(c, "import_bookmarks", err)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": errorKindInvalidRequest, "fields": map[string]string{importFormField: "multipart"}})
			return
		}
		if part.FormName() != importFormField {
			_ = part.Close()
			continue
		}
		summary, err := h.importer.Import(c.Request.Context(), c.GetString(ownerIDContextKey), part)
		_ = part.Close()
		if err != nil {
			status, body := h.errorResponse("import_bookmarks", err)
			body["summary"] = summary
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": errorKindInvalidRequest, "fields": map[string]string{importFormField: "required"}})
}
