package utils

import (
	"errors"
	"net/http"
	"strings"
)

var ErrTooLarge = errors.New("arquivo excede o tamanho máximo permitido")

func GetExtensionFromMime(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav":
		return "wav"
	case "audio/mp4", "audio/aac":
		return "m4a"
	case "video/mp4":
		return "mp4"
	case "video/3gpp":
		return "3gp"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}

// DetectMime usa o mime declarado quando existir, senão inspeciona os bytes.
func DetectMime(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
