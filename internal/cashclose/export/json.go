package export

import (
	"encoding/json"
	"io"

	"github.com/forgefit/forgefit/internal/cashclose"
)

// WriteJSON emits the payload as indented JSON.
func WriteJSON(w io.Writer, p cashclose.ExportPayload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
